// Package events fans payment notifications out to buyers (pubnub) and to
// backend consumers (rabbitmq).
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Event is one outbound notification. Subject is the payment or transfer
// reference it concerns.
type Event struct {
	Type       string    `json:"type"`
	Subject    string    `json:"subject"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop drops events. Used when no broker is configured.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) Publish(_ context.Context, e Event) error {
	if n.Logger != nil {
		n.Logger.Debug("event publish skipped", "type", e.Type, "subject", e.Subject)
	}
	return nil
}

func (Noop) Close() error { return nil }
