package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadLetter describes a message given up on after retries were exhausted.
type DeadLetter struct {
	Topic     string    `json:"topic"`
	MessageID string    `json:"messageId"`
	Event     Event     `json:"event"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failedAt"`
}

// DeadLetterSink stores messages for later inspection or replay.
type DeadLetterSink interface {
	Send(ctx context.Context, letter DeadLetter) error
}

// DeadLetterStream is the stream dead letters of topic are written to.
func DeadLetterStream(topic string) string {
	return topic + ".dlq"
}

// RedisDeadLetterSink appends dead letters to "<topic>.dlq".
type RedisDeadLetterSink struct {
	client *redis.Client
}

func NewRedisDeadLetterSink(client *redis.Client) *RedisDeadLetterSink {
	return &RedisDeadLetterSink{client: client}
}

func (s *RedisDeadLetterSink) Send(ctx context.Context, letter DeadLetter) error {
	if letter.FailedAt.IsZero() {
		letter.FailedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(letter.Topic),
		Values: map[string]any{
			"key":         letter.Event.Key,
			"dead_letter": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to write dead letter for %s: %w", letter.MessageID, err)
	}
	return nil
}
