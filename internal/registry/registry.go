// Package registry resolves where a user can be reached: the email address on
// their account and their single browser push subscription.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukerupert/medreminder/internal/model"
)

var (
	// ErrNotFound means the owner has no target for the requested channel.
	ErrNotFound = errors.New("registry: target not found")
	// ErrUnavailable wraps persistence failures. Callers skip the channel for
	// this cycle instead of failing the whole dispatch.
	ErrUnavailable = errors.New("registry: unavailable")
)

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type PushStore interface {
	Upsert(ctx context.Context, ownerID, endpoint, p256dh, auth, deviceName string) (*model.PushSubscription, error)
	GetByOwner(ctx context.Context, ownerID string) (*model.PushSubscription, error)
	DeleteByOwner(ctx context.Context, ownerID string) error
	DeleteByOwnerEndpoint(ctx context.Context, ownerID, endpoint string) error
	ListAll(ctx context.Context) ([]model.PushSubscription, error)
}

// PushKeys is the client-supplied half of a push subscription.
type PushKeys struct {
	Endpoint   string
	P256dh     string
	Auth       string
	DeviceName string
}

type Registry struct {
	users UserStore
	push  PushStore
}

func New(users UserStore, push PushStore) *Registry {
	return &Registry{users: users, push: push}
}

// EmailTarget returns the address on the owner's account record.
func (r *Registry) EmailTarget(ctx context.Context, ownerID string) (string, error) {
	u, err := r.users.GetByID(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("email target: %w: %w", ErrUnavailable, err)
	}
	if u == nil || u.Email == "" {
		return "", ErrNotFound
	}
	return u.Email, nil
}

func (r *Registry) PushTarget(ctx context.Context, ownerID string) (*model.PushSubscription, error) {
	sub, err := r.push.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("push target: %w: %w", ErrUnavailable, err)
	}
	if sub == nil {
		return nil, ErrNotFound
	}
	return sub, nil
}

// UpsertPush replaces any existing subscription for the owner.
func (r *Registry) UpsertPush(ctx context.Context, ownerID string, keys PushKeys) (*model.PushSubscription, error) {
	if keys.Endpoint == "" || keys.P256dh == "" || keys.Auth == "" {
		return nil, errors.New("registry: endpoint, p256dh and auth are required")
	}
	sub, err := r.push.Upsert(ctx, ownerID, keys.Endpoint, keys.P256dh, keys.Auth, keys.DeviceName)
	if err != nil {
		return nil, fmt.Errorf("upsert push: %w: %w", ErrUnavailable, err)
	}
	return sub, nil
}

func (r *Registry) RemovePush(ctx context.Context, ownerID string) error {
	if err := r.push.DeleteByOwner(ctx, ownerID); err != nil {
		return fmt.Errorf("remove push: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// RemoveStalePush drops the owner's subscription after its endpoint reported
// gone. A subscription re-registered with a different endpoint is kept.
func (r *Registry) RemoveStalePush(ctx context.Context, ownerID, endpoint string) error {
	if err := r.push.DeleteByOwnerEndpoint(ctx, ownerID, endpoint); err != nil {
		return fmt.Errorf("remove stale push: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (r *Registry) ListPush(ctx context.Context) ([]model.PushSubscription, error) {
	subs, err := r.push.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list push: %w: %w", ErrUnavailable, err)
	}
	return subs, nil
}
