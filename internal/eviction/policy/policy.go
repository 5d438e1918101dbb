// Package policy decides how many bytes a cache must shed.
package policy

// Policy defines the interface for checking if eviction is needed.
type Policy interface {
	// BytesToFree returns the number of bytes that should be evicted
	// from a cache currently holding currentSize bytes.
	// Returns 0 if no eviction is needed.
	BytesToFree(currentSize int64) (int64, error)
}
