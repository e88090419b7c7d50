package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/tourledger/pkg/notification"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the durable queue notification events are published to.
const DefaultQueue = "tourledger.notifications"

var ErrMalformedEvent = errors.New("malformed notification event")

// EventType names the notification carried by an Event.
type EventType string

const (
	EventPurchaseConfirmation EventType = "purchase_confirmation"
	EventTourReminder         EventType = "tour_reminder"
	EventTourCancellation     EventType = "tour_cancellation"
)

// Event is the queued form of a notification.
type Event struct {
	Type                 EventType                          `json:"type"`
	TouristIDs           []string                           `json:"tourist_ids"`
	PurchaseConfirmation *notification.PurchaseConfirmation `json:"purchase_confirmation,omitempty"`
	TourReminder         *notification.TourReminder         `json:"tour_reminder,omitempty"`
	TourCancellation     *notification.TourCancellation     `json:"tour_cancellation,omitempty"`
	PublishedAt          time.Time                          `json:"published_at"`
}

// AMQPChannel is the part of *amqp.Channel the publisher uses.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher queues notifications as persistent JSON events for the relay.
type AMQPPublisher struct {
	mu      sync.Mutex
	channel AMQPChannel
	queue   string
	nowFn   func() time.Time
	closeFn func() error
}

var _ notification.Sender = (*AMQPPublisher)(nil)

// NewAMQPPublisher declares the durable queue on channel and returns a publisher.
func NewAMQPPublisher(channel AMQPChannel, queue string, now func() time.Time) (*AMQPPublisher, error) {
	if channel == nil {
		return nil, fmt.Errorf("%w: amqp channel is nil", ErrInvalidTransport)
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = DefaultQueue
	}
	if now == nil {
		now = time.Now
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	return &AMQPPublisher{channel: channel, queue: queue, nowFn: now, closeFn: func() error { return nil }}, nil
}

// DialAMQPPublisher connects to the broker and returns a publisher owning the connection.
func DialAMQPPublisher(url string, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	publisher, err := NewAMQPPublisher(channel, queue, time.Now)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	publisher.closeFn = func() error {
		_ = channel.Close()
		return conn.Close()
	}
	return publisher, nil
}

// Close releases the broker connection, if the publisher owns one.
func (publisher *AMQPPublisher) Close() error {
	return publisher.closeFn()
}

// SendPurchaseConfirmation queues a purchase confirmation.
func (publisher *AMQPPublisher) SendPurchaseConfirmation(ctx context.Context, touristID string, data notification.PurchaseConfirmation) error {
	return publisher.publish(ctx, Event{Type: EventPurchaseConfirmation, TouristIDs: []string{touristID}, PurchaseConfirmation: &data})
}

// SendTourReminder queues a tour reminder.
func (publisher *AMQPPublisher) SendTourReminder(ctx context.Context, touristID string, data notification.TourReminder) error {
	return publisher.publish(ctx, Event{Type: EventTourReminder, TouristIDs: []string{touristID}, TourReminder: &data})
}

// SendTourCancellation queues one cancellation event for all affected tourists.
func (publisher *AMQPPublisher) SendTourCancellation(ctx context.Context, touristIDs []string, data notification.TourCancellation) error {
	recipients := append([]string(nil), touristIDs...)
	return publisher.publish(ctx, Event{Type: EventTourCancellation, TouristIDs: recipients, TourCancellation: &data})
}

func (publisher *AMQPPublisher) publish(ctx context.Context, event Event) error {
	publishedAt := publisher.nowFn().UTC()
	event.PublishedAt = publishedAt
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	message := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    publishedAt,
		Type:         string(event.Type),
		Body:         body,
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if err := publisher.channel.PublishWithContext(ctx, "", publisher.queue, false, false, message); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}
