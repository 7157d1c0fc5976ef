package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent HTTP responses.
// Entries live in named stores, so that a new cache generation
// starts out empty without touching the old one.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Open creates the named store if it does not exist.
	// Opening an existing store is a no-op.
	Open(ctx context.Context, store string) error
	// Get returns the stored value for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	// A missing key is not an error.
	Get(ctx context.Context, store, key string) ([]byte, bool, error)
	// Put stores the value under the given key, overwriting any previous value.
	// Writing to a store that was never opened fails with ErrStoreNotOpen.
	Put(ctx context.Context, store, key string, bytes []byte) error
	// Keys calls the given callback for each key in the store.
	Keys(ctx context.Context, store string, cb func(string)) error
}

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string][]byte
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string][]byte),
	}
}

func (m MemCache) Open(ctx context.Context, store string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[store]; !ok {
		m.db[store] = make(map[string][]byte)
	}
	return nil
}

func (m MemCache) Get(ctx context.Context, store, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[store][key]
	return entry, ok, nil
}

func (m MemCache) Put(ctx context.Context, store, key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entries, ok := m.db[store]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStoreNotOpen, store)
	}
	entries[key] = bytes
	return nil
}

func (m MemCache) Keys(ctx context.Context, store string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db[store]))
	for key := range m.db[store] {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

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
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (store, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, err
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}

func (s SQLiteCache) Open(ctx context.Context, store string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)",
		store, time.Now().Unix())
	return err
}

func (s SQLiteCache) Get(ctx context.Context, store, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE store = ? AND key = ?", store, key).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(ctx context.Context, store, key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (store, key, stored_at, bytes)
		SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM stores WHERE name = ?)`,
		store, key, time.Now().Unix(), bytes, store)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ErrStoreNotOpen, store)
	}
	return nil
}

func (s SQLiteCache) Keys(ctx context.Context, store string, cb func(string)) error {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE store = ? ORDER BY key", store)
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
