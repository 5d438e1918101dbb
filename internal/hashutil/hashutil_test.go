package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestDeriveKey(t *testing.T) {
	locator := "mxc://matrix.org/GCmhgzMPRjqgpODLsNQzVuHZ"

	t.Run("Deterministic", func(t *testing.T) {
		first := DeriveKey(locator)
		for i := 0; i < 10; i++ {
			if got := DeriveKey(locator); got != first {
				t.Fatalf("call %d returned %s, want %s", i, got, first)
			}
		}
	})

	t.Run("Matches SHA-256 Hex", func(t *testing.T) {
		sum := sha256.Sum256([]byte(locator))
		want := hex.EncodeToString(sum[:])
		if got := DeriveKey(locator); got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})

	t.Run("Distinct Locators", func(t *testing.T) {
		if DeriveKey("mxc://a/1") == DeriveKey("mxc://a/2") {
			t.Error("different locators produced the same key")
		}
	})

	t.Run("Output Is Valid Key", func(t *testing.T) {
		if !ValidKey(DeriveKey("")) {
			t.Error("derived key for empty locator is not a valid key")
		}
	})
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{DeriveKey("x"), true},
		{"index.db", false},
		{"put-123456", false},
		{"ABCDEF0000000000000000000000000000000000000000000000000000000000", false},
		{"0000000000000000000000000000000000000000000000000000000000000000", true},
	}
	for _, tt := range tests {
		if got := ValidKey(tt.in); got != tt.want {
			t.Errorf("ValidKey(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGetHasher(t *testing.T) {
	if _, err := GetHasher("md4"); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
	if !IsSupported("sha512") {
		t.Error("sha512 should be supported")
	}
}
