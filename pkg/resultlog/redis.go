// Package resultlog publishes the outcome of every explorer cycle to Redis.
package resultlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventsChannel carries every CycleEvent of every session.
const EventsChannel = "tdtp:explore:events"

// StateKey returns the key holding the latest CycleEvent of a session.
func StateKey(sessionID string) string {
	return fmt.Sprintf("tdtp:explore:session:%s:state", sessionID)
}

// CycleEvent describes one pushed payload.
//
// Redis keys:
//
//	SET  tdtp:explore:session:<id>:state  <JSON>  EX <ttl>  latest cycle, for polling
//	PUB  tdtp:explore:events                               every cycle, for subscribers
type CycleEvent struct {
	SessionID  string    `json:"session_id"`
	Decision   string    `json:"decision"` // initial | adopted
	Page       int       `json:"page"`
	TotalRows  int64     `json:"total_rows"`
	TotalPages int       `json:"total_pages"`
	SortOrder  string    `json:"sort_order"`
	Search     string    `json:"search,omitempty"`
	Status     string    `json:"status"` // success | failed
	Error      *string   `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// RedisPublisher writes cycle events to Redis.
type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPublisher wraps an existing client. The client is owned by the caller.
func NewRedisPublisher(client *redis.Client, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{client: client, ttl: ttl}
}

// Publish stores ev as the session's latest state and announces it on
// EventsChannel. Status is derived from ev.Error.
func (p *RedisPublisher) Publish(ctx context.Context, ev CycleEvent) error {
	if ev.Error != nil {
		ev.Status = "failed"
	} else {
		ev.Status = "success"
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal cycle event: %w", err)
	}

	if err := p.client.Set(ctx, StateKey(ev.SessionID), payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	if err := p.client.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH failed: %w", err)
	}
	return nil
}

// Latest reads back the last event stored for a session.
func (p *RedisPublisher) Latest(ctx context.Context, sessionID string) (*CycleEvent, error) {
	raw, err := p.client.Get(ctx, StateKey(sessionID)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}
	var ev CycleEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode cycle event: %w", err)
	}
	return &ev, nil
}
