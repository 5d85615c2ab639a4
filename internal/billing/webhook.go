// Package billing keeps billing_subscriptions in step with Stripe webhooks.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// OwnerMetadataKey is the customer (or subscription) metadata key holding
// the owner id.
const OwnerMetadataKey = "owner_id"

const maxBodyBytes = 65536

// Store persists subscription status per owner.
type Store interface {
	Upsert(ctx context.Context, ownerID, stripeSubscriptionID, status string) error
	SetStatusBySubscription(ctx context.Context, stripeSubscriptionID, status string) (bool, error)
}

// CustomerLookup resolves a Stripe customer id to an owner id. It returns ""
// when the customer carries no owner metadata.
type CustomerLookup interface {
	OwnerID(ctx context.Context, customerID string) (string, error)
}

type WebhookHandler struct {
	secret    string
	store     Store
	customers CustomerLookup
	logger    *slog.Logger
}

// NewWebhookHandler creates the Stripe webhook endpoint. customers may be nil,
// in which case only metadata present on the event is used.
func NewWebhookHandler(secret string, store Store, customers CustomerLookup, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		store:     store,
		customers: customers,
		logger:    logger.With("component", "billing"),
	}
}

// ServeHTTP handles POST /webhooks/stripe.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("rejected webhook", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		err = h.handleSubscription(ctx, event, "")
	case "customer.subscription.deleted":
		err = h.handleSubscription(ctx, event, string(stripe.SubscriptionStatusCanceled))
	case "invoice.payment_failed":
		err = h.handlePaymentFailed(ctx, event)
	default:
		h.logger.Debug("ignored webhook", "type", event.Type)
	}
	if err != nil {
		h.logger.Error("webhook", "type", event.Type, "error", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleSubscription records the subscription status. A non-empty override
// replaces the status reported by Stripe.
func (h *WebhookHandler) handleSubscription(ctx context.Context, event stripe.Event, override string) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}
	status := string(sub.Status)
	if override != "" {
		status = override
	}

	owner := sub.Metadata[OwnerMetadataKey]
	if owner == "" {
		var err error
		owner, err = h.ownerForCustomer(ctx, sub.Customer)
		if err != nil {
			return err
		}
	}
	return h.apply(ctx, owner, sub.ID, status)
}

func (h *WebhookHandler) handlePaymentFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}
	subID := subscriptionIDFromInvoice(invoice)
	if subID == "" {
		return nil
	}
	owner, err := h.ownerForCustomer(ctx, invoice.Customer)
	if err != nil {
		return err
	}
	return h.apply(ctx, owner, subID, string(stripe.SubscriptionStatusPastDue))
}

func (h *WebhookHandler) apply(ctx context.Context, owner, subID, status string) error {
	if owner != "" {
		if err := h.store.Upsert(ctx, owner, subID, status); err != nil {
			return err
		}
		h.logger.Info("billing status updated", "owner_id", owner, "status", status)
		return nil
	}
	matched, err := h.store.SetStatusBySubscription(ctx, subID, status)
	if err != nil {
		return err
	}
	if !matched {
		h.logger.Warn("webhook for unknown owner", "subscription", subID)
	}
	return nil
}

func (h *WebhookHandler) ownerForCustomer(ctx context.Context, c *stripe.Customer) (string, error) {
	if c == nil {
		return "", nil
	}
	if owner := c.Metadata[OwnerMetadataKey]; owner != "" {
		return owner, nil
	}
	if h.customers == nil || c.ID == "" {
		return "", nil
	}
	owner, err := h.customers.OwnerID(ctx, c.ID)
	if err != nil {
		return "", fmt.Errorf("lookup customer %s: %w", c.ID, err)
	}
	return owner, nil
}

func subscriptionIDFromInvoice(invoice stripe.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

// StripeCustomers looks customers up through the Stripe API.
type StripeCustomers struct {
	api *client.API
}

func NewStripeCustomers(secretKey string) *StripeCustomers {
	return &StripeCustomers{api: client.New(secretKey, nil)}
}

func (s *StripeCustomers) OwnerID(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	c, err := s.api.Customers.Get(customerID, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	return c.Metadata[OwnerMetadataKey], nil
}
