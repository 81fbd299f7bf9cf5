// Package events publishes booking lifecycle events to RabbitMQ.
//
// Publication is best effort: a failed publish is logged by the caller and
// never changes a booking's outcome.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/yatra/booking-backend/internal/models"
)

// Event types, also used as routing keys
const (
	BookingConfirmed        = "booking.confirmed"
	BookingFailed           = "booking.failed"
	BookingCancelled        = "booking.cancelled"
	BookingAllocationFailed = "booking.allocation_failed"
)

// BookingEvent is the JSON body of every published message
type BookingEvent struct {
	EventID         uuid.UUID `json:"event_id"`
	Type            string    `json:"type"`
	BookingID       uuid.UUID `json:"booking_id"`
	TransactionID   string    `json:"transaction_id"`
	UserID          uuid.UUID `json:"user_id"`
	TripID          uuid.UUID `json:"trip_id"`
	NumberOfPersons int       `json:"number_of_persons"`
	TotalAmount     float64   `json:"total_amount"`
	Currency        string    `json:"currency"`
	PaymentMethod   string    `json:"payment_method"`
	GatewayRef      string    `json:"gateway_ref,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// NewBookingEvent snapshots a booking into an event of the given type
func NewBookingEvent(eventType string, b *models.Booking) BookingEvent {
	e := BookingEvent{
		EventID:         uuid.New(),
		Type:            eventType,
		BookingID:       b.ID,
		TransactionID:   b.TransactionID,
		UserID:          b.UserID,
		TripID:          b.TripID,
		NumberOfPersons: b.NumberOfPersons,
		TotalAmount:     b.TotalAmount,
		Currency:        b.Currency,
		PaymentMethod:   string(b.PaymentMethod),
		OccurredAt:      time.Now().UTC(),
	}
	if b.PaymentGatewayRef != nil {
		e.GatewayRef = *b.PaymentGatewayRef
	}
	if b.FailureReason != nil {
		e.Reason = *b.FailureReason
	}
	return e
}

// Publisher sends booking events somewhere
type Publisher interface {
	Publish(ctx context.Context, event BookingEvent) error
	Close() error
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event BookingEvent) error { return nil }
func (NoopPublisher) Close() error                                          { return nil }

// RabbitMQPublisher publishes persistent JSON messages on a durable topic exchange
type RabbitMQPublisher struct {
	url      string
	exchange string
	logger   *logrus.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitMQPublisher dials the broker and declares the exchange
func NewRabbitMQPublisher(url, exchange string, logger *logrus.Logger) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{url: url, exchange: exchange, logger: logger}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel open failed: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // kind
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("rabbitmq exchange declare failed: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

// Publish sends event with its type as routing key, reconnecting once if the
// channel was closed underneath us
func (p *RabbitMQPublisher) Publish(ctx context.Context, event BookingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() || p.conn.IsClosed() {
		p.logger.WithField("exchange", p.exchange).Warn("RabbitMQ channel closed, reconnecting")
		if err := p.connect(); err != nil {
			return err
		}
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID.String(),
		Timestamp:    event.OccurredAt,
		Type:         event.Type,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		event.Type, // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	); err != nil {
		return fmt.Errorf("rabbitmq publish failed: %w", err)
	}
	return nil
}

// Close closes the channel and connection
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
