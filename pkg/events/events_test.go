package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisStreamPublisherAppendsEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	pub, err := NewPublisher(Config{Driver: "redis", Topic: "test.events"}, client)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	ev := Event{
		Type:       TypeTurnCompleted,
		SessionID:  "s-1",
		UserID:     "u-1",
		BookID:     "b-1",
		MessageIDs: []string{"m-1", "m-2"},
		OccurredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := pub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := client.XRange(context.Background(), "test.events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one stream entry, got %d", len(msgs))
	}
	if msgs[0].Values["type"] != TypeTurnCompleted {
		t.Fatalf("unexpected type field: %v", msgs[0].Values["type"])
	}
	raw, _ := msgs[0].Values["payload"].(string)
	var got Event
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.SessionID != "s-1" || len(got.MessageIDs) != 2 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestNewPublisherDrivers(t *testing.T) {
	pub, err := NewPublisher(Config{}, nil)
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	if _, ok := pub.(NopPublisher); !ok {
		t.Fatalf("expected NopPublisher, got %T", pub)
	}
	if _, err := NewPublisher(Config{Driver: "redis"}, nil); err == nil {
		t.Fatalf("expected redis driver without client to fail")
	}
	if _, err := NewPublisher(Config{Driver: "rabbitmq"}, nil); err == nil {
		t.Fatalf("expected rabbitmq driver without url to fail")
	}
	if _, err := NewPublisher(Config{Driver: "kafka"}, nil); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}
