package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StateStore holds small key/value markers the scheduler needs across restarts.
type StateStore struct {
	db *sql.DB
}

func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// GetTime returns the stored instant for key, or the zero time if unset.
func (s *StateStore) GetTime(ctx context.Context, key string) (time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM scheduler_state WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get state %s: %w", key, err)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse state %s: %w", key, err)
	}
	return t, nil
}

func (s *StateStore) SetTime(ctx context.Context, key string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, t.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}
