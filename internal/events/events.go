// Package events pushes lobby lifecycle records onto a Redis list for the
// presentation/audit consumer. Publishing is fire-and-forget from the
// engine's perspective: a feed failure never fails the command that
// produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind identifies a lifecycle event.
type Kind string

const (
	KindLobbyCreated    Kind = "lobby_created"
	KindParticipantLeft Kind = "participant_left"
	KindLobbyReaped     Kind = "lobby_reaped"
)

// Event is the minimal record a downstream consumer needs.
type Event struct {
	Kind      Kind   `json:"kind"`
	Guild     string `json:"guild"`
	LobbyID   int64  `json:"lobby_id"`
	LobbyName string `json:"lobby_name,omitempty"`
	MemberID  string `json:"member_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher owns the Redis client and the queue name.
type Publisher struct {
	rdb   *redis.Client
	queue string
}

// NewPublisher connects to Redis and verifies the connection with a short
// ping.
func NewPublisher(ctx context.Context, addr string, db int, queue string) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Publisher{rdb: rdb, queue: queue}, nil
}

// Publish serializes the event and RPUSHes it onto the queue.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to list %q: %w", p.queue, err)
	}
	return nil
}

// Close releases the Redis client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
