package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/medreminder/internal/model"
)

// DeliveryStore is the append-only log of channel attempts.
type DeliveryStore struct {
	db *sql.DB
}

func NewDeliveryStore(db *sql.DB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

func (s *DeliveryStore) Record(ctx context.Context, d model.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log (intent_id, owner_id, kind, channel, dose_instance_id, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.IntentID, d.OwnerID, string(d.Kind), string(d.Channel), d.DoseInstanceID, d.Status, d.Error,
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (s *DeliveryStore) ListByIntent(ctx context.Context, intentID string) ([]model.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, intent_id, owner_id, kind, channel, dose_instance_id, status, error, created_at
		 FROM delivery_log WHERE intent_id = ? ORDER BY channel`,
		intentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []model.Delivery
	for rows.Next() {
		var d model.Delivery
		var doseID sql.NullInt64
		if err := rows.Scan(&d.ID, &d.IntentID, &d.OwnerID, &d.Kind, &d.Channel, &doseID, &d.Status, &d.Error, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		if doseID.Valid {
			id := doseID.Int64
			d.DoseInstanceID = &id
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Cleanup removes log rows created before the cutoff.
func (s *DeliveryStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM delivery_log WHERE created_at < ?`,
		before.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup delivery log: %w", err)
	}
	return result.RowsAffected()
}
