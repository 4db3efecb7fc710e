package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"
)

const createTable = `
	CREATE TABLE IF NOT EXISTS proxy_kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`

// SQLStore keeps each client's list as a JSON document in a key/value table.
type SQLStore struct {
	db  *dbutil.Database
	mu  sync.Mutex
	now func() time.Time
}

// OpenSQLStore opens (or creates) a sqlite database at path.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening history database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would see its own empty database
		raw.SetMaxOpenConns(1)
	}
	db, err := dbutil.NewWithDB(raw, "sqlite3")
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("error wrapping history database: %w", err)
	}
	return NewSQLStore(ctx, db)
}

// NewSQLStore uses an already opened database and ensures the table exists.
func NewSQLStore(ctx context.Context, db *dbutil.Database) (*SQLStore, error) {
	if _, err := db.Exec(ctx, createTable); err != nil {
		return nil, fmt.Errorf("error creating history table: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

func (s *SQLStore) Load(ctx context.Context, client string) (List, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM proxy_kv WHERE key=$1`, key(client)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return List{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("error loading history: %w", err)
	}

	var l List
	if err := json.Unmarshal([]byte(value), &l); err != nil {
		return nil, fmt.Errorf("error decoding history: %w", err)
	}
	return l, nil
}

// Record reads, updates and writes back the list under a lock so concurrent
// requests from one client do not drop each other's entries.
func (s *SQLStore) Record(ctx context.Context, client, url string) (List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.Load(ctx, client)
	if err != nil {
		return nil, err
	}
	l = l.Add(url, s.now())

	value, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("error encoding history: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO proxy_kv (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key(client), string(value), s.now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("error saving history: %w", err)
	}
	return l, nil
}

func (s *SQLStore) Clear(ctx context.Context, client string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(ctx, `DELETE FROM proxy_kv WHERE key=$1`, key(client)); err != nil {
		return fmt.Errorf("error clearing history: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
