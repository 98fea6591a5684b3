// Package events publishes loan domain events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
)

const RoutingKeyApplicationSubmitted = "loan.application.submitted"

// ApplicationSubmitted is published once an application is stored and its loan disbursed.
type ApplicationSubmitted struct {
	ApplicationID  uuid.UUID       `json:"application_id"`
	LoanID         uuid.UUID       `json:"loan_id"`
	CustomerID     string          `json:"customer_id"`
	ProductID      string          `json:"product_id"`
	CreatedBy      string          `json:"created_by"`
	Principal      decimal.Decimal `json:"principal"`
	NetDisbursable decimal.Decimal `json:"net_disbursable"`
	SettledLoanID  *uuid.UUID      `json:"settled_loan_id,omitempty"`
	SubmittedAt    time.Time       `json:"submitted_at"`
}

// Publisher is implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close()
}

// NoopPublisher drops events. It is used when RabbitMQ is unavailable at startup.
type NoopPublisher struct {
	Logger *slog.Logger
}

func (p NoopPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	if p.Logger != nil {
		p.Logger.Warn("event publish skipped", "routing_key", routingKey)
	}
	return nil
}

func (NoopPublisher) Close() {}

// SanitizeURL strips quotes and stray characters around an AMQP URL.
func SanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// AMQPPublisher publishes JSON events to a durable topic exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *slog.Logger
}

func NewAMQPPublisher(rawURL, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cleanURL, err := SanitizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p := &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, logger: logger}
	if err := p.declare(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) declare() error {
	return p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil)
}

// reopen replaces a closed channel. Must be called with mu held.
func (p *AMQPPublisher) reopen() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return p.declare()
}

// Publish sends body as JSON. A failed publish is retried once on a fresh channel.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	p.logger.Warn("publish failed; reopening channel", "exchange", p.exchange, "routing_key", routingKey, "error", err)
	if rerr := p.reopen(); rerr != nil {
		return fmt.Errorf("publish %s: %w", routingKey, errors.Join(err, rerr))
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
