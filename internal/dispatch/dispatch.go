// Package dispatch fans a notification intent out to its channels. Each
// channel is attempted independently and its outcome recorded; one failing
// provider never blocks another.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/push"
	"github.com/dukerupert/medreminder/internal/registry"
	"github.com/dukerupert/medreminder/internal/websocket"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrChannelDeliveryFailed marks a provider error on a single channel.
var ErrChannelDeliveryFailed = errors.New("dispatch: channel delivery failed")

const (
	channelTimeout = 15 * time.Second
	broadcastLimit = 8
)

type Registry interface {
	EmailTarget(ctx context.Context, ownerID string) (string, error)
	PushTarget(ctx context.Context, ownerID string) (*model.PushSubscription, error)
	RemoveStalePush(ctx context.Context, ownerID, endpoint string) error
	ListPush(ctx context.Context) ([]model.PushSubscription, error)
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
	NotificationHTML(title, body, link string) string
}

type PushSender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload push.Payload) error
}

type InAppSender interface {
	SendTo(ownerID string, msg websocket.Message) error
}

type DeliveryLog interface {
	Record(ctx context.Context, d model.Delivery) error
}

// Channels returns the channels an intent kind is delivered on.
func Channels(kind model.IntentKind) []model.Channel {
	switch kind {
	case model.IntentReminder:
		return []model.Channel{model.ChannelEmail, model.ChannelPush}
	case model.IntentEscalation:
		return []model.Channel{model.ChannelPush, model.ChannelEmail}
	case model.IntentConfirmation:
		return []model.Channel{model.ChannelInApp, model.ChannelPush}
	case model.IntentLowStock:
		return []model.Channel{model.ChannelEmail, model.ChannelInApp}
	}
	return nil
}

// ChannelResult is the outcome of one channel attempt.
type ChannelResult struct {
	Channel model.Channel
	Status  string
	Err     error
}

// Outcome reports per-channel success without conflating channels.
type Outcome struct {
	IntentID string          `json:"intentId"`
	EmailOK  bool            `json:"emailOk"`
	PushOK   bool            `json:"pushOk"`
	InAppOK  bool            `json:"inAppOk"`
	Results  []ChannelResult `json:"-"`
}

// Err joins the errors of every failed channel, or nil if none failed.
func (o Outcome) Err() error {
	var errs []error
	for _, r := range o.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// BroadcastResult counts push deliveries of a broadcast.
type BroadcastResult struct {
	SuccessCount int `json:"successCount"`
	FailedCount  int `json:"failedCount"`
}

type Dispatcher struct {
	registry Registry
	email    EmailSender
	push     PushSender
	inApp    InAppSender
	log      DeliveryLog
	logger   *slog.Logger
}

func New(reg Registry, email EmailSender, push PushSender, inApp InAppSender, log DeliveryLog, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		email:    email,
		push:     push,
		inApp:    inApp,
		log:      log,
		logger:   logger.With("component", "dispatch"),
	}
}

// Dispatch attempts every channel of the intent's kind concurrently and
// returns once all attempts finished. Email is not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, intent model.Intent) Outcome {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	channels := Channels(intent.Kind)
	results := make([]ChannelResult, len(channels))

	var g errgroup.Group
	for i, ch := range channels {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, channelTimeout)
			defer cancel()
			results[i] = d.attempt(cctx, ch, intent)
			d.record(ctx, intent, results[i])
			return nil
		})
	}
	g.Wait()

	out := Outcome{IntentID: intent.ID, Results: results}
	for _, r := range results {
		ok := r.Status == model.DeliveryOK
		switch r.Channel {
		case model.ChannelEmail:
			out.EmailOK = ok
		case model.ChannelPush:
			out.PushOK = ok
		case model.ChannelInApp:
			out.InAppOK = ok
		}
	}
	return out
}

func (d *Dispatcher) attempt(ctx context.Context, ch model.Channel, intent model.Intent) ChannelResult {
	res := ChannelResult{Channel: ch}
	var err error
	switch ch {
	case model.ChannelEmail:
		err = d.sendEmail(ctx, intent)
	case model.ChannelPush:
		err = d.sendPush(ctx, intent)
	case model.ChannelInApp:
		err = d.inApp.SendTo(intent.OwnerID, inAppMessage(intent))
		if errors.Is(err, websocket.ErrNoRecipient) {
			res.Status = model.DeliverySkipped
			return res
		}
	}

	switch {
	case err == nil:
		res.Status = model.DeliveryOK
	case errors.Is(err, registry.ErrNotFound):
		res.Status = model.DeliverySkipped
	case errors.Is(err, registry.ErrUnavailable):
		res.Status = model.DeliverySkipped
		res.Err = err
		d.logger.Warn("registry unavailable, channel skipped",
			"channel", ch, "kind", intent.Kind, "owner_id", intent.OwnerID, "intent_id", intent.ID, "error", err)
	case errors.Is(err, push.ErrEndpointGone):
		res.Status = model.DeliveryGone
		res.Err = fmt.Errorf("%w: %s: %w", ErrChannelDeliveryFailed, ch, err)
	default:
		res.Status = model.DeliveryFailed
		res.Err = fmt.Errorf("%w: %s: %w", ErrChannelDeliveryFailed, ch, err)
		d.logger.Warn("channel delivery failed",
			"channel", ch, "kind", intent.Kind, "owner_id", intent.OwnerID, "intent_id", intent.ID, "error", err)
	}
	return res
}

func (d *Dispatcher) sendEmail(ctx context.Context, intent model.Intent) error {
	to, err := d.registry.EmailTarget(ctx, intent.OwnerID)
	if err != nil {
		return err
	}
	p := intent.Payload
	return d.email.Send(ctx, to, p.Title, d.email.NotificationHTML(p.Title, p.Body, p.URL))
}

func (d *Dispatcher) sendPush(ctx context.Context, intent model.Intent) error {
	sub, err := d.registry.PushTarget(ctx, intent.OwnerID)
	if err != nil {
		return err
	}
	err = d.push.Send(ctx, sub, pushPayload(intent.Payload))
	if errors.Is(err, push.ErrEndpointGone) {
		d.removeGone(ctx, sub)
	}
	return err
}

func (d *Dispatcher) removeGone(ctx context.Context, sub *model.PushSubscription) {
	if err := d.registry.RemoveStalePush(ctx, sub.OwnerID, sub.Endpoint); err != nil {
		d.logger.Error("remove gone push subscription", "owner_id", sub.OwnerID, "error", err)
		return
	}
	d.logger.Info("removed gone push subscription", "owner_id", sub.OwnerID)
}

func (d *Dispatcher) record(ctx context.Context, intent model.Intent, r ChannelResult) {
	entry := model.Delivery{
		IntentID:       intent.ID,
		OwnerID:        intent.OwnerID,
		Kind:           intent.Kind,
		Channel:        r.Channel,
		DoseInstanceID: intent.DoseInstanceID,
		Status:         r.Status,
	}
	if r.Err != nil {
		entry.Error = r.Err.Error()
	}
	if err := d.log.Record(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Error("record delivery", "intent_id", intent.ID, "channel", r.Channel, "error", err)
	}
}

// Broadcast sends payload to every registered push subscription. Gone
// endpoints are removed and counted as failures.
func (d *Dispatcher) Broadcast(ctx context.Context, payload model.IntentPayload) (BroadcastResult, error) {
	subs, err := d.registry.ListPush(ctx)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("broadcast: %w", err)
	}

	intentID := uuid.NewString()
	pp := pushPayload(payload)
	var success, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(broadcastLimit)
	for _, sub := range subs {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, channelTimeout)
			defer cancel()

			res := ChannelResult{Channel: model.ChannelPush, Status: model.DeliveryOK}
			err := d.push.Send(cctx, &sub, pp)
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, push.ErrEndpointGone):
				failed.Add(1)
				res.Status = model.DeliveryGone
				res.Err = err
				d.removeGone(ctx, &sub)
			default:
				failed.Add(1)
				res.Status = model.DeliveryFailed
				res.Err = err
				d.logger.Warn("broadcast push failed", "owner_id", sub.OwnerID, "error", err)
			}
			d.record(ctx, model.Intent{ID: intentID, OwnerID: sub.OwnerID, Kind: model.IntentBroadcast}, res)
			return nil
		})
	}
	g.Wait()

	result := BroadcastResult{SuccessCount: int(success.Load()), FailedCount: int(failed.Load())}
	d.logger.Info("broadcast complete", "intent_id", intentID, "success", result.SuccessCount, "failed", result.FailedCount)
	return result, nil
}

func pushPayload(p model.IntentPayload) push.Payload {
	return push.Payload{Title: p.Title, Body: p.Body, URL: p.URL, Tag: p.Tag, Data: p.Data}
}

func inAppMessage(intent model.Intent) websocket.Message {
	msg := websocket.NewMessage(string(intent.Kind), intent.Payload.Title, intent.Payload.Body)
	msg.IntentID = intent.ID
	msg.DoseInstanceID = intent.DoseInstanceID
	msg.URL = intent.Payload.URL
	msg.Data = intent.Payload.Data
	return msg
}
