package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteUserStore implements UserStore backed by SQLite. Scalar values live
// in a key/value table; list values appended via Append live in a dedicated
// append-only table so history entries are never rewritten or renumbered.
type SQLiteUserStore struct {
	db *sql.DB
}

// NewSQLiteUserStore opens (or creates) the user database at path.
func NewSQLiteUserStore(path string) (*SQLiteUserStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open user database: %w", err)
	}

	store := &SQLiteUserStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteUserStore) init() error {
	// Serialized access keeps concurrent appends atomic without app-level locks.
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		return fmt.Errorf("failed to configure database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS user_state (
		submitter  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (submitter, key)
	);
	CREATE TABLE IF NOT EXISTS user_history (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		submitter  TEXT NOT NULL,
		key        TEXT NOT NULL,
		item       TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_submitter ON user_history(submitter, key, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Get returns the value for one user-scoped key. List-valued keys populated
// by Append are reassembled from the history table in insertion order.
func (s *SQLiteUserStore) Get(ctx context.Context, submitter string, key Key) (Value, bool, error) {
	if items, found, err := s.history(ctx, submitter, key); err != nil {
		return nil, false, err
	} else if found {
		return items, true, nil
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM user_state WHERE submitter = ? AND key = ?`,
		submitter, string(key)).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read user state: %w", err)
	}

	var value Value
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, fmt.Errorf("corrupt user state value for %s/%s: %w", submitter, key, err)
	}
	return value, true, nil
}

// Set stores one user-scoped value. Last writer wins.
func (s *SQLiteUserStore) Set(ctx context.Context, submitter string, key Key, value Value) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode user state value: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_state (submitter, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(submitter, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		submitter, string(key), string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write user state: %w", err)
	}
	return nil
}

// Append adds an item to an append-only list. Each call is a single INSERT,
// so concurrent submissions by the same submitter cannot lose entries.
func (s *SQLiteUserStore) Append(ctx context.Context, submitter string, key Key, item Value) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode history item: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_history (submitter, key, item, created_at) VALUES (?, ?, ?, ?)`,
		submitter, string(key), string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// Increment adds one to a counter in a single upsert, so concurrent
// submissions by the same submitter never lose an update. Counter values are
// stored as bare JSON numbers, which SQLite can do arithmetic on directly.
func (s *SQLiteUserStore) Increment(ctx context.Context, submitter string, key Key) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO user_state (submitter, key, value, updated_at) VALUES (?, ?, '1', ?)
		 ON CONFLICT(submitter, key) DO UPDATE SET
		   value = CAST(user_state.value AS INTEGER) + 1,
		   updated_at = excluded.updated_at
		 RETURNING CAST(value AS INTEGER)`,
		submitter, string(key), time.Now().UTC()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return total, nil
}

// Snapshot returns all user-scoped values for one submitter.
func (s *SQLiteUserStore) Snapshot(ctx context.Context, submitter string) (View, error) {
	view := make(View)

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM user_state WHERE submitter = ?`, submitter)
	if err != nil {
		return nil, fmt.Errorf("failed to read user state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var value Value
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			continue
		}
		view[Key(key)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	histRows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT key FROM user_history WHERE submitter = ?`, submitter)
	if err != nil {
		return nil, fmt.Errorf("failed to read history keys: %w", err)
	}
	defer histRows.Close()

	var histKeys []Key
	for histRows.Next() {
		var key string
		if err := histRows.Scan(&key); err != nil {
			return nil, err
		}
		histKeys = append(histKeys, Key(key))
	}
	if err := histRows.Err(); err != nil {
		return nil, err
	}

	for _, key := range histKeys {
		items, _, err := s.history(ctx, submitter, key)
		if err != nil {
			return nil, err
		}
		view[key] = items
	}
	return view, nil
}

// history returns the append-only list for key, with found=false when no
// entries exist.
func (s *SQLiteUserStore) history(ctx context.Context, submitter string, key Key) ([]Value, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item FROM user_history WHERE submitter = ? AND key = ? ORDER BY id`,
		submitter, string(key))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	var items []Value
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, false, err
		}
		var item Value
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return items, len(items) > 0, nil
}

// Close closes the underlying database.
func (s *SQLiteUserStore) Close() error {
	return s.db.Close()
}
