package domain

// ---------------------------------------------------------------------------
// Key/value persistence port
// ---------------------------------------------------------------------------

// KVStore is the client-local persistence contract. Values are opaque
// strings, in practice JSON documents. Implementations must be safe for
// concurrent use.
type KVStore interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(key string) (string, error)
	// Set creates or replaces the value for key.
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
	// Keys lists keys starting with prefix.
	Keys(prefix string) ([]string, error)
}

// StoreError is a typed error for the persistence port.
type StoreError string

func (e StoreError) Error() string { return string(e) }

const (
	ErrKeyNotFound StoreError = "key not found"
	ErrEmptyKey    StoreError = "key cannot be empty"
)
