package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	TypeTurnCompleted   = "chat.turn.completed"
	TypeInsightAppended = "chat.insight.appended"
)

const (
	DriverNone     = "none"
	DriverRabbitMQ = "rabbitmq"
	DriverRedis    = "redis"
)

// Event is the JSON payload emitted after a write completes.
type Event struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"sessionId,omitempty"`
	UserID     string    `json:"userId"`
	BookID     string    `json:"bookId"`
	MessageIDs []string  `json:"messageIds,omitempty"`
	InsightID  string    `json:"insightId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// Config selects the publisher backend.
type Config struct {
	Driver    string
	RabbitURL string
	Topic     string
}

// NewPublisher builds the publisher named by cfg.Driver. The redis driver
// reuses the given client.
func NewPublisher(cfg Config, redisClient *redis.Client) (Publisher, error) {
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = "bookchat.events"
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverNone:
		return NopPublisher{}, nil
	case DriverRabbitMQ:
		p, err := NewRabbitPublisher(cfg.RabbitURL, topic)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		return p, nil
	case DriverRedis:
		if redisClient == nil {
			return nil, errors.New("redis events require redisAddr")
		}
		return NewRedisStreamPublisher(redisClient, topic, 0), nil
	default:
		return nil, fmt.Errorf("unknown events driver: %q", cfg.Driver)
	}
}
