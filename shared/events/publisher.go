package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
)

// DefaultAckTimeout bounds how long Publish waits for the broker to accept a
// message.
const DefaultAckTimeout = 5 * time.Second

// PublishResult identifies where a message was stored.
type PublishResult struct {
	Topic     string
	Stream    string
	Partition int
	ID        string
}

type Publisher struct {
	client     *redis.Client
	partitions int
	ackTimeout time.Duration
}

type PublisherConfig struct {
	Partitions int
	AckTimeout time.Duration
}

func NewPublisher(client *redis.Client, config PublisherConfig) *Publisher {
	if config.Partitions <= 0 {
		config.Partitions = 1
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultAckTimeout
	}
	return &Publisher{
		client:     client,
		partitions: config.Partitions,
		ackTimeout: config.AckTimeout,
	}
}

// Partitions reports the number of partitions per topic.
func (p *Publisher) Partitions() int {
	return p.partitions
}

// Publish wraps data in an envelope and appends it to the partition stream
// selected by key. It returns once the broker has stored the message or the
// ack timeout elapsed.
func (p *Publisher) Publish(ctx context.Context, topic, key, eventType string, data any) (PublishResult, error) {
	event, err := NewEvent(eventType, key, data)
	if err != nil {
		return PublishResult{}, err
	}
	return p.PublishEvent(ctx, topic, event)
}

// PublishEvent appends an already built envelope.
func (p *Publisher) PublishEvent(ctx context.Context, topic string, event Event) (PublishResult, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return PublishResult{}, fmt.Errorf("%w: failed to marshal event: %w", apperrors.ErrSerialization, err)
	}

	partition := Partition(event.Key, p.partitions)
	stream := StreamName(topic, partition)

	ackCtx, cancel := context.WithTimeout(ctx, p.ackTimeout)
	defer cancel()

	id, err := p.client.XAdd(ackCtx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"key":   event.Key,
			"event": eventJSON,
		},
	}).Result()
	if err != nil {
		return PublishResult{}, fmt.Errorf("failed to publish %s to %s: %w", event.Type, stream, err)
	}

	logrus.WithFields(logrus.Fields{
		"stream": stream,
		"id":     id,
		"type":   event.Type,
		"key":    event.Key,
	}).Debug("event published")

	return PublishResult{Topic: topic, Stream: stream, Partition: partition, ID: id}, nil
}
