package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/notification"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	relayPrefetch   = 50
	relayMinBackoff = time.Second
	relayMaxBackoff = 30 * time.Second
)

// Relay consumes queued notification events and forwards them to a Sender.
type Relay struct {
	url    string
	queue  string
	sender notification.Sender
	logger *zap.Logger
}

// NewRelay builds a Relay.
func NewRelay(url string, queue string, sender notification.Sender, logger *zap.Logger) (*Relay, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: amqp url is required", ErrInvalidTransport)
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: sender is nil", ErrInvalidTransport)
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{url: url, queue: queue, sender: sender, logger: logger}, nil
}

// Run consumes until ctx is cancelled, reconnecting with exponential backoff.
func (relay *Relay) Run(ctx context.Context) error {
	backoff := relayMinBackoff
	for {
		conn, err := amqp.Dial(relay.url)
		if err != nil {
			relay.logger.Warn("relay dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleepContext(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < relayMaxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = relayMinBackoff

		err = relay.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		relay.logger.Warn("relay consume loop ended, reconnecting", zap.Error(err))
		if !sleepContext(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (relay *Relay) consume(ctx context.Context, conn *amqp.Connection) error {
	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = channel.Close() }()

	if err := channel.Qos(relayPrefetch, 0, false); err != nil {
		relay.logger.Warn("relay qos failed", zap.Error(err))
	}
	if _, err := channel.QueueDeclare(relay.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	deliveries, err := channel.Consume(relay.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	relay.logger.Info("relay consuming", zap.String("queue", relay.queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := relay.Handle(ctx, delivery.Body); err != nil {
				relay.logger.Warn("relay dropped event", zap.String("type", delivery.Type), zap.Error(err))
				_ = delivery.Nack(false, false)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Handle decodes one event and forwards it.
func (relay *Relay) Handle(ctx context.Context, body []byte) error {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(event.TouristIDs) == 0 {
		return fmt.Errorf("%w: no recipients", ErrMalformedEvent)
	}
	switch event.Type {
	case EventPurchaseConfirmation:
		if event.PurchaseConfirmation == nil {
			return fmt.Errorf("%w: missing purchase confirmation", ErrMalformedEvent)
		}
		return relay.sender.SendPurchaseConfirmation(ctx, event.TouristIDs[0], *event.PurchaseConfirmation)
	case EventTourReminder:
		if event.TourReminder == nil {
			return fmt.Errorf("%w: missing tour reminder", ErrMalformedEvent)
		}
		return relay.sender.SendTourReminder(ctx, event.TouristIDs[0], *event.TourReminder)
	case EventTourCancellation:
		if event.TourCancellation == nil {
			return fmt.Errorf("%w: missing tour cancellation", ErrMalformedEvent)
		}
		return relay.sender.SendTourCancellation(ctx, event.TouristIDs, *event.TourCancellation)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, event.Type)
	}
}

func sleepContext(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
