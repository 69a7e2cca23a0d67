// Package mailqueue is the outbound email outbox. The auth core enqueues
// messages and returns immediately; a separate delivery worker drains the
// Redis list and talks to the mail provider.
package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrEmpty       = errors.New("mail queue empty")
	ErrUnavailable = errors.New("mail queue unavailable")
)

// Message is one queued email. TemplateData is rendered by the delivery
// worker; the queue never interprets it.
type Message struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Recipient    string            `json:"recipient"`
	UserID       int64             `json:"user_id"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
}

// RedisQueue is a FIFO outbox on a Redis list.
type RedisQueue struct {
	redis redis.UniversalClient
	key   string
	now   func() time.Time
}

func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	if key == "" {
		key = "auth:mail:outbox"
	}
	return &RedisQueue{redis: client, key: key, now: time.Now}
}

// Enqueue appends a message and returns its id.
func (q *RedisQueue) Enqueue(ctx context.Context, msgType, recipient string, userID int64, data map[string]string) (string, error) {
	msg := Message{
		ID:           uuid.NewString(),
		Type:         msgType,
		Recipient:    recipient,
		UserID:       userID,
		TemplateData: data,
		EnqueuedAt:   q.now().UTC(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	if err := q.redis.LPush(ctx, q.key, raw).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return msg.ID, nil
}

// Dequeue pops the oldest message, waiting up to wait. A zero wait polls.
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Message, error) {
	var raw string
	if wait > 0 {
		res, err := q.redis.BRPop(ctx, wait, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrEmpty
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		raw = res[1]
	} else {
		res, err := q.redis.RPop(ctx, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrEmpty
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		raw = res
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("mailqueue: decode message: %w", err)
	}
	return &msg, nil
}

// Len returns the number of pending messages.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}
