// Package webhooks queues compliance events for subscribed endpoints and
// delivers them with signed, retried POSTs.
package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eldhos/internal/eld"
	"eldhos/internal/store"
)

// Publisher enqueues one delivery per matching subscription. It satisfies
// eld.Publisher.
type Publisher struct {
	Store  store.Store
	Logger *zap.Logger
}

func NewPublisher(s store.Store, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{Store: s, Logger: logger}
}

// envelope is the body POSTed to subscribers.
type envelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	DriverID string `json:"driverId,omitempty"`
	TS       string `json:"ts"`
	Data     any    `json:"data"`
}

func (p *Publisher) Publish(ctx context.Context, e eld.Event) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, e.Type)
	if err != nil {
		p.Logger.Warn("subscription lookup failed", zap.String("event_type", e.Type), zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}
	body, err := json.Marshal(envelope{
		ID:       "evt_" + uuid.NewString(),
		Type:     e.Type,
		DriverID: e.DriverID,
		TS:       e.At.UTC().Format(time.RFC3339),
		Data:     e.Data,
	})
	if err != nil {
		p.Logger.Error("encode webhook payload", zap.String("event_type", e.Type), zap.Error(err))
		return
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, e.Type, s.URL, s.Secret, body); err != nil {
			p.Logger.Warn("enqueue webhook failed", zap.String("subscription_id", s.ID), zap.Error(err))
		}
	}
}
