package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/mediacache"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/netmon"
)

func TestParseSize(t *testing.T) {
	tests := map[string]int64{
		"":       0,
		"0":      0,
		"1024":   1024,
		"500MB":  500 * 1000 * 1000,
		"2GiB":   2 << 30,
		"64 KiB": 64 << 10,
	}
	for in, want := range tests {
		viper.Set("test-size", in)
		got, err := parseSize("test-size")
		if err != nil {
			t.Errorf("parseSize(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parseSize(%q) = %d, want %d", in, got, want)
		}
	}

	viper.Set("test-size", "lots")
	if _, err := parseSize("test-size"); err == nil {
		t.Error("Expected error for invalid size")
	}
}

func TestSetupLogging(t *testing.T) {
	if err := setupLogging("debug", "json"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := setupLogging("info", "text"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := setupLogging("loud", "text"); err == nil {
		t.Error("Expected error for invalid level")
	}
	if err := setupLogging("info", "xml"); err == nil {
		t.Error("Expected error for invalid format")
	}
}

func TestPrintStats(t *testing.T) {
	st := mediacache.Stats{Count: 3, VisibleCount: 1, TotalSize: 3 << 20, AvgAccessCount: 2, UtilizationPercent: 30}

	t.Run("human readable", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printStats(&buf, st, 10<<20, false); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, want := range []string{"3 (1 visible)", "3.0 MiB of 10 MiB", "30.0%"} {
			if !strings.Contains(out, want) {
				t.Errorf("Expected %q in output:\n%s", want, out)
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printStats(&buf, st, 0, true); err != nil {
			t.Fatal(err)
		}
		var got mediacache.Stats
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("Invalid JSON: %v", err)
		}
		if got != st {
			t.Errorf("Expected %+v, got %+v", st, got)
		}
	})
}

func TestTransitionPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &transitionPrinter{w: &buf, state: func() netmon.State {
		return netmon.State{Online: true, Type: "WIFI"}
	}}
	p.OnNetworkTypeChanged(netmon.TypeWiFi, netmon.TypeCellular)
	p.OnNetworkLost()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	var line transitionLine
	if err := json.Unmarshal([]byte(lines[0]), &line); err != nil {
		t.Fatal(err)
	}
	if line.Event != "type_changed" || line.From != "WIFI" || line.To != "CELLULAR" {
		t.Errorf("Unexpected line %+v", line)
	}
	if !line.State.Online {
		t.Error("Expected state to be included")
	}
}
