package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/medreminder/internal/model"
)

// CaregiverStore reads patient to caregiver links used for escalation.
type CaregiverStore struct {
	db *sql.DB
}

func NewCaregiverStore(db *sql.DB) *CaregiverStore {
	return &CaregiverStore{db: db}
}

// Link creates or reactivates a link between a patient and a caregiver.
func (s *CaregiverStore) Link(ctx context.Context, patientID, caregiverID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO caregiver_links (patient_id, caregiver_id, active) VALUES (?, ?, 1)
		 ON CONFLICT(patient_id, caregiver_id) DO UPDATE SET active = 1`,
		patientID, caregiverID,
	)
	if err != nil {
		return fmt.Errorf("link caregiver: %w", err)
	}
	return nil
}

func (s *CaregiverStore) Unlink(ctx context.Context, patientID, caregiverID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE caregiver_links SET active = 0 WHERE patient_id = ? AND caregiver_id = ?`,
		patientID, caregiverID,
	)
	if err != nil {
		return fmt.Errorf("unlink caregiver: %w", err)
	}
	return nil
}

// ListActiveCaregivers returns the active caregiver accounts linked to a patient.
func (s *CaregiverStore) ListActiveCaregivers(ctx context.Context, patientID string) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.name, u.role, u.active, u.created_at
		 FROM caregiver_links l
		 JOIN users u ON u.id = l.caregiver_id
		 WHERE l.patient_id = ? AND l.active = 1 AND u.active = 1
		 ORDER BY u.id`,
		patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("list caregivers: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan caregiver: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
