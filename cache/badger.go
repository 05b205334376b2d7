package cache

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// storeSeparator terminates the store name inside badger keys.
// Store names are validated upstream and never contain it.
const storeSeparator = "\x00"

// BadgerCache is a Provider backed by an embedded badger database.
// Suited for single-node deployments that outlive restarts without
// an external server.
type BadgerCache struct {
	db *badger.DB
}

// NewBadgerCache opens (or creates) a badger database at the given path.
// If path is empty, the database lives in memory only.
func NewBadgerCache(path string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

func entryKey(store, key string) []byte {
	return []byte(store + storeSeparator + key)
}

func storePrefix(store string) []byte {
	return []byte(store + storeSeparator)
}

func (b *BadgerCache) Get(store, key string) ([]byte, bool, error) {
	var bts []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(store, key))
		if err != nil {
			return err
		}
		bts, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bts, true, nil
}

func (b *BadgerCache) Put(store, key string, bts []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(store, key), bts)
	})
}

func (b *BadgerCache) Delete(store, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(store, key))
	})
}

func (b *BadgerCache) Keys(store string, cb func(key string)) error {
	prefix := storePrefix(store)
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			cb(string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
}

func (b *BadgerCache) Count(store string) (int, error) {
	count := 0
	err := b.Keys(store, func(string) {
		count++
	})
	return count, err
}

func (b *BadgerCache) Stores() ([]string, error) {
	seen := make(map[string]struct{})
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			if i := bytes.IndexByte(k, 0); i >= 0 {
				seen[string(k[:i])] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *BadgerCache) DropStore(store string) error {
	return b.db.DropPrefix(storePrefix(store))
}

func (b *BadgerCache) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return fmt.Errorf("badger db is closed")
	}
	return nil
}

func (b *BadgerCache) Close() error {
	return b.db.Close()
}
