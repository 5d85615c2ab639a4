package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/medreminder/internal/model"
)

// UserStore mirrors account records owned by the identity provider. Email is
// read from here, never from a separate opt-in.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var active int
	err := scanner.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &active, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Active = active != 0
	return &u, nil
}

const userCols = `id, email, name, role, active, created_at`

// Upsert creates the user or refreshes email, name and role for an existing id.
func (s *UserStore) Upsert(ctx context.Context, id, email, name, role string) (*model.User, error) {
	if role == "" {
		role = model.RolePatient
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, role) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET email = excluded.email, name = excluded.name, role = excluded.role`,
		id, email, name, role,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) SetActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
