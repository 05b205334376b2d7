package cache

import (
	"context"
	"sort"
	"sync"
)

// MemCache is an in-memory Provider for testing and embedded use.
// Contents are lost on restart.
type MemCache struct {
	mutex  *sync.RWMutex
	stores map[string]map[string][]byte
}

func NewMemCache() MemCache {
	return MemCache{
		mutex:  &sync.RWMutex{},
		stores: make(map[string]map[string][]byte),
	}
}

func (m MemCache) Get(store, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries, ok := m.stores[store]
	if !ok {
		return nil, false, nil
	}
	bts, ok := entries[key]
	return bts, ok, nil
}

func (m MemCache) Put(store, key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entries, ok := m.stores[store]
	if !ok {
		entries = make(map[string][]byte)
		m.stores[store] = entries
	}
	entries[key] = bytes
	return nil
}

func (m MemCache) Delete(store, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entries, ok := m.stores[store]
	if !ok {
		return nil
	}
	delete(entries, key)
	if len(entries) == 0 {
		delete(m.stores, store)
	}
	return nil
}

func (m MemCache) Keys(store string, cb func(key string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.stores[store]))
	for key := range m.stores[store] {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Count(store string) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.stores[store]), nil
}

func (m MemCache) Stores() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemCache) DropStore(store string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.stores, store)
	return nil
}

func (m MemCache) Ping(ctx context.Context) error {
	return nil
}

func (m MemCache) Close() error {
	return nil
}
