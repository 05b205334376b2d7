package cache

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteCache is a Provider backed by a single SQLite database.
// Writes are serialized through a mutex since the driver does not
// support concurrent writers.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		store TEXT NOT NULL,
		key TEXT NOT NULL,
		bytes BLOB,
		PRIMARY KEY (store, key)
	)`); err != nil {
		return SQLiteCache{}, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return SQLiteCache{}, err
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Get(store, key string) ([]byte, bool, error) {
	var bts []byte
	err := s.db.QueryRow("SELECT bytes FROM cache WHERE store = ? AND key = ?", store, key).Scan(&bts)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bts, true, nil
}

func (s SQLiteCache) Put(store, key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO cache (store, key, bytes) VALUES (?, ?, ?)", store, key, bytes)
	return err
}

func (s SQLiteCache) Delete(store, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE store = ? AND key = ?", store, key)
	return err
}

func (s SQLiteCache) Keys(store string, cb func(key string)) error {
	rows, err := s.db.Query("SELECT key FROM cache WHERE store = ? ORDER BY key", store)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cb(key)
	}
	return rows.Err()
}

func (s SQLiteCache) Count(store string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM cache WHERE store = ?", store).Scan(&count)
	return count, err
}

func (s SQLiteCache) Stores() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT store FROM cache ORDER BY store")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteCache) DropStore(store string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE store = ?", store)
	return err
}

func (s SQLiteCache) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
