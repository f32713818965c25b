package events

import (
	"context"
	"fmt"

	pubnub "github.com/pubnub/go/v7"
)

type PubNubConfig struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	UserID       string
}

// PubNubPublisher pushes events to the buyer's realtime channel
// "payment-<subject>".
type PubNubPublisher struct {
	send func(channel string, message any) error
}

func NewPubNubPublisher(cfg PubNubConfig) *PubNubPublisher {
	userID := cfg.UserID
	if userID == "" {
		userID = "ticket-payments"
	}
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	pnConfig.PublishKey = cfg.PublishKey
	pnConfig.SubscribeKey = cfg.SubscribeKey
	pnConfig.SecretKey = cfg.SecretKey

	pn := pubnub.NewPubNub(pnConfig)
	return &PubNubPublisher{
		send: func(channel string, message any) error {
			_, _, err := pn.Publish().
				Channel(channel).
				Message(message).
				Execute()
			return err
		},
	}
}

// Channel is the realtime channel a buyer's checkout page listens on.
func Channel(subject string) string {
	return "payment-" + subject
}

func (p *PubNubPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := map[string]any{
		"type":        e.Type,
		"reference":   e.Subject,
		"payload":     e.Payload,
		"occurred_at": e.OccurredAt.Unix(),
	}
	if err := p.send(Channel(e.Subject), msg); err != nil {
		return fmt.Errorf("pubnub publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *PubNubPublisher) Close() error { return nil }
