package cache

import "context"

// Provider is an interface for a cache storage backend.
// It stores and retrieves []byte values, which represent HTTP responses.
// Entries are addressed by a (store, key) pair: the store is a cache
// version name, the key identifies one response within it. Stores come
// and go as whole units, and a store exists exactly as long as it holds
// entries.
//
// Implementations must be thread-safe!
type Provider interface {
	// Get returns the stored bytes for the given key, if they exist.
	// It also returns a boolean indicating whether retrieval was successful.
	Get(store, key string) ([]byte, bool, error)
	// Put stores the given bytes under the given key,
	// overwriting any previous entry.
	Put(store, key string, bytes []byte) error
	// Delete removes the entry for the given key.
	// Deleting a missing entry is not an error.
	Delete(store, key string) error
	// Keys calls the given callback for each key in the store, in lexical
	// order. It calls the callback in order to enable very large stores to
	// be processable (provider implementation might use paging, for
	// instance).
	Keys(store string, cb func(key string)) error
	// Count returns the number of entries in the store.
	Count(store string) (int, error)
	// Stores returns the names of all stores holding at least one entry,
	// in lexical order.
	Stores() ([]string, error)
	// DropStore removes a store and every entry in it.
	DropStore(store string) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend.
	Close() error
}
