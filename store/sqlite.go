package store

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the key-value layout to a single local SQLite file
// via the pure-Go, cgo-free modernc.org/sqlite driver — fits spec.md §3's
// "locally-persisted" requirement without introducing a cgo build
// dependency, matching goop2's choice of the same driver in the pack.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the SQLite file at path and
// ensures the single kv table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLiteStore) Put(key string, value []byte) error {
	_, err := s.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *SQLiteStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) ListPrefix(prefix string) (map[string][]byte, error) {
	// modernc.org/sqlite's LIKE escaping would need its own ESCAPE clause
	// for prefixes that themselves contain % or _; none of this module's
	// key prefixes do (they're fixed literals like "contacts/" or
	// "group-msgs-"), so a plain glob-style LIKE is sufficient here.
	rows, err := s.db.Query(`SELECT key, value FROM kv WHERE key LIKE ? || '%'`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		if strings.HasPrefix(key, prefix) {
			out[key] = value
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
