// Package storage defines the local key-value store that stands in for
// browser local storage.
package storage

// Provider is the interface for key-value persistence.
type Provider interface {
	// Get returns the value stored under key, or apperr.ErrNotFound.
	Get(key string) ([]byte, error)
	// Put replaces the value stored under key.
	Put(key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// Close releases underlying resources.
	Close() error
}
