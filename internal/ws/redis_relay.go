package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Publisher accepts named event payloads.
type Publisher interface {
	Publish(event string, payload []byte)
}

// RedisRelay fans events out across API replicas. Local publishes go to the
// hub immediately and to a Redis channel; messages received from the channel
// that originated on another replica are delivered to the local hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	hub     Publisher
	log     *slog.Logger
}

type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewRedisRelay connects to Redis and verifies the connection.
func NewRedisRelay(ctx context.Context, addr, password string, db int, channel string, hub Publisher, logger *slog.Logger) (*RedisRelay, error) {
	if channel == "" {
		return nil, errors.New("redis relay channel required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		hub:     hub,
		log:     logger,
	}, nil
}

// Publish delivers locally and forwards to other replicas.
func (r *RedisRelay) Publish(event string, payload []byte) {
	r.hub.Publish(event, payload)

	body, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: event, Payload: payload})
	if err != nil {
		r.log.Error("encode relay envelope", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		r.log.Warn("redis relay publish failed", "event", event, "error", err)
	}
}

// Run consumes the shared channel until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(msg.Payload)
		}
	}
}

func (r *RedisRelay) deliver(raw string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.log.Warn("discarding malformed relay message", "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.hub.Publish(env.Event, env.Payload)
}

// Close releases the Redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
