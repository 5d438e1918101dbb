package hashutil

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
)

// KeyAlgo is the algorithm used to derive media cache keys.
const KeyAlgo = "sha256"

type HashFactory func() hash.Hash

var registry = map[string]HashFactory{
	"sha256": sha256.New,
	"sha512": sha512.New,
}

func Register(name string, factory HashFactory) {
	registry[name] = factory
}

func GetHasher(name string) (hash.Hash, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
	return factory(), nil
}

func IsSupported(name string) bool {
	_, ok := registry[name]
	return ok
}

// DeriveKey returns the content-addressed cache key for a remote media locator.
//
// The key is the hex encoded digest of the locator string, so the same locator
// maps to the same key across calls and process restarts. A missing key
// algorithm leaves the cache unable to address anything, so it panics.
func DeriveKey(remoteLocator string) string {
	h, err := GetHasher(KeyAlgo)
	if err != nil {
		panic(fmt.Sprintf("hashutil: cannot derive cache keys: %v", err))
	}
	h.Write([]byte(remoteLocator))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidKey reports whether s looks like a key produced by DeriveKey.
func ValidKey(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
