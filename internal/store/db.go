package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite state database of a profile. It implements KV.
type DB struct {
	*sql.DB
	n notifier
}

var _ KV = (*DB)(nil)

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db}, nil
}

// Get returns the value stored under key, or ErrNotFound.
func (db *DB) Get(key string) ([]byte, error) {
	var value []byte
	err := db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Set writes value under key and notifies subscribers once it is committed.
func (db *DB) Set(key string, value []byte) error {
	now := time.Now().UnixMilli()
	if _, err := db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	db.n.notify(key, value)
	return nil
}

// Subscribe delivers values written to key through this handle.
func (db *DB) Subscribe(key string) (<-chan []byte, func()) {
	return db.n.subscribe(key)
}
