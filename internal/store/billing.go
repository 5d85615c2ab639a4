package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/medreminder/internal/model"
)

type BillingStore struct {
	db *sql.DB
}

func NewBillingStore(db *sql.DB) *BillingStore {
	return &BillingStore{db: db}
}

func (s *BillingStore) Upsert(ctx context.Context, ownerID, stripeSubscriptionID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO billing_subscriptions (owner_id, stripe_subscription_id, status)
		 VALUES (?, ?, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET
		   stripe_subscription_id = excluded.stripe_subscription_id,
		   status = excluded.status,
		   updated_at = CURRENT_TIMESTAMP`,
		ownerID, stripeSubscriptionID, status,
	)
	if err != nil {
		return fmt.Errorf("upsert billing subscription: %w", err)
	}
	return nil
}

// SetStatusBySubscription updates the status of the row tied to a Stripe
// subscription. It reports whether a row matched.
func (s *BillingStore) SetStatusBySubscription(ctx context.Context, stripeSubscriptionID, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE billing_subscriptions SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE stripe_subscription_id = ?`,
		status, stripeSubscriptionID,
	)
	if err != nil {
		return false, fmt.Errorf("set billing status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *BillingStore) GetByOwner(ctx context.Context, ownerID string) (*model.BillingSubscription, error) {
	var b model.BillingSubscription
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, stripe_subscription_id, status, updated_at
		 FROM billing_subscriptions WHERE owner_id = ?`, ownerID,
	).Scan(&b.OwnerID, &b.StripeSubscriptionID, &b.Status, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get billing subscription: %w", err)
	}
	return &b, nil
}
