package feed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func roundTrip(t *testing.T, q Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	want := []byte(`{"probe":"` + uuid.NewString() + `"}`)
	if err := q.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := make(chan []byte, 1)
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = q.Consume(consumeCtx, 1, func(_ context.Context, payload []byte) error {
			select {
			case got <- payload:
			default:
			}
			return nil
		})
	}()
	select {
	case payload := <-got:
		if string(payload) != string(want) {
			t.Fatalf("payload = %s, want %s", payload, want)
		}
	case <-ctx.Done():
		t.Fatalf("message not delivered")
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	addr := os.Getenv("XGROWTH_REDIS_ADDR")
	if addr == "" {
		t.Skip("XGROWTH_REDIS_ADDR not set")
	}
	q, err := NewRedisQueue(context.Background(), RedisQueueConfig{
		Address:   addr,
		Queue:     "xgrowth:test:" + uuid.NewString(),
		BlockWait: time.Second,
	})
	if err != nil {
		t.Fatalf("redis queue: %v", err)
	}
	defer q.Close()
	roundTrip(t, q)
}

func TestRabbitMQQueueRoundTrip(t *testing.T) {
	url := os.Getenv("XGROWTH_AMQP_URL")
	if url == "" {
		t.Skip("XGROWTH_AMQP_URL not set")
	}
	q, err := NewRabbitMQQueue(RabbitMQConfig{URL: url, Queue: "xgrowth.test." + uuid.NewString(), AutoDelete: true})
	if err != nil {
		t.Fatalf("rabbitmq queue: %v", err)
	}
	defer q.Close()
	roundTrip(t, q)
}

func TestBrokerConfigValidation(t *testing.T) {
	if _, err := NewRedisQueue(context.Background(), RedisQueueConfig{}); err == nil {
		t.Fatalf("expected error for empty redis address")
	}
	if _, err := NewRabbitMQQueue(RabbitMQConfig{}); err == nil {
		t.Fatalf("expected error for empty amqp url")
	}
}
