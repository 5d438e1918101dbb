package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const testLocator = "mxc://example.org/abc"

func newHomeserver(t *testing.T, downloads *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/v1/media/download/example.org/abc" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		downloads.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, homeserver string) Config {
	return Config{
		CacheDir:            t.TempDir(),
		MaxCacheSize:        1 << 20,
		Homeserver:          homeserver,
		AccessToken:         "secret",
		NetworkPollInterval: -1,
	}
}

func TestOpen(t *testing.T) {
	var downloads atomic.Int32
	hs := newHomeserver(t, &downloads)
	cfg := testConfig(t, hs.URL)

	a, err := Open(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	e, hit, err := a.Service.Load(t.Context(), testLocator)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if hit {
		t.Error("Expected first load to miss")
	}
	if e.FileType.String() != "image" {
		t.Errorf("Expected image, got %s", e.FileType)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	t.Run("reopening restores the cache", func(t *testing.T) {
		a, err := Open(t.Context(), cfg)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer a.Close()

		e, hit, err := a.Service.Load(t.Context(), testLocator)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if !hit {
			t.Error("Expected cached media after restart")
		}
		if e.RemoteLocator != testLocator {
			t.Errorf("Expected locator %s, got %s", testLocator, e.RemoteLocator)
		}
		if n := downloads.Load(); n != 1 {
			t.Errorf("Expected one download, got %d", n)
		}
	})

	t.Run("rejects unknown strategy", func(t *testing.T) {
		cfg := testConfig(t, hs.URL)
		cfg.EvictionStrategy = "random"
		if _, err := Open(t.Context(), cfg); err == nil {
			t.Error("Expected error")
		}
	})

	t.Run("rejects unknown age mode", func(t *testing.T) {
		cfg := testConfig(t, hs.URL)
		cfg.AgeMode = "sideways"
		if _, err := Open(t.Context(), cfg); err == nil {
			t.Error("Expected error")
		}
	})
}

func TestNewServer(t *testing.T) {
	var downloads atomic.Int32
	hs := newHomeserver(t, &downloads)
	cfg := testConfig(t, hs.URL)
	cfg.Metrics = true
	cfg.EvictionInterval = time.Hour
	cfg.EvictionStrategy = "lru"

	server, cleanup, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer cleanup()

	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	get := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := get("/media?locator=" + testLocator)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "png bytes" {
		t.Errorf("Unexpected body %q", body)
	}

	resp = get("/stats")
	var stats struct {
		Cache struct {
			Count int `json:"count"`
		} `json:"cache"`
		Throttle map[string]int `json:"throttle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.Cache.Count != 1 {
		t.Errorf("Expected 1 cached entry, got %d", stats.Cache.Count)
	}
	if _, ok := stats.Throttle["active"]; !ok {
		t.Error("Expected throttle section in stats")
	}

	resp = get("/metrics")
	body, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "andromuks_media_") {
		t.Error("Expected media cache metrics")
	}

	resp = get("/network")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 with monitoring disabled, got %d", resp.StatusCode)
	}
}
