package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
)

// Message is one delivery handed to a Handler.
type Message struct {
	Topic     string
	Stream    string
	Partition int
	ID        string
	Event     Event
}

// Handler processes a message. Returning nil acknowledges it; returning a
// transient error leaves it pending so it is delivered again before anything
// behind it on the same partition.
type Handler func(ctx context.Context, msg Message) error

type Subscriber struct {
	client        *redis.Client
	group         string
	consumer      string
	topic         string
	partitions    int
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
	retryDelay    time.Duration
	claimMinIdle  time.Duration
	log           *logrus.Entry
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Topic         string
	Partitions    int
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	// RetryDelay is the pause before a failed message is delivered again.
	RetryDelay time.Duration
	// ClaimMinIdle is how long an entry must sit unacked in another
	// consumer's pending list before a starting worker takes it over.
	ClaimMinIdle time.Duration
}

func NewSubscriber(client *redis.Client, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.Partitions <= 0 {
		config.Partitions = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.ClaimMinIdle <= 0 {
		config.ClaimMinIdle = time.Minute
	}

	return &Subscriber{
		client:        client,
		group:         config.Group,
		consumer:      config.Consumer,
		topic:         config.Topic,
		partitions:    config.Partitions,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		retryDelay:    config.RetryDelay,
		claimMinIdle:  config.ClaimMinIdle,
		log: logrus.WithFields(logrus.Fields{
			"topic": config.Topic,
			"group": config.Group,
		}),
	}
}

// Start runs one worker per partition and blocks until ctx is cancelled or a
// worker fails to join its consumer group.
func (s *Subscriber) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for p := 0; p < s.partitions; p++ {
		w := s.worker(p)
		if err := w.join(ctx); err != nil {
			cancel()
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errOnce.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}()
	}

	s.log.WithField("partitions", s.partitions).Info("subscriber started")
	wg.Wait()
	s.log.Info("subscriber stopped")

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (s *Subscriber) worker(partition int) *partitionWorker {
	stream := StreamName(s.topic, partition)
	return &partitionWorker{
		sub:       s,
		partition: partition,
		stream:    stream,
		// Entries delivered before a restart but never acked come first.
		cursor: "0",
		log:    s.log.WithField("stream", stream),
	}
}

// partitionWorker consumes a single partition stream in order.
type partitionWorker struct {
	sub       *Subscriber
	partition int
	stream    string
	cursor    string
	log       *logrus.Entry
}

func (w *partitionWorker) join(ctx context.Context) error {
	err := w.sub.client.XGroupCreateMkStream(ctx, w.stream, w.sub.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group on %s: %w", w.stream, err)
	}
	return nil
}

// reclaim moves entries that other consumers of the group left unacked for
// at least ClaimMinIdle into this consumer's pending list, where the "0"
// cursor drain picks them up.
func (w *partitionWorker) reclaim(ctx context.Context) (int, error) {
	claimed := 0
	start := "0-0"
	for {
		messages, next, err := w.sub.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   w.stream,
			Group:    w.sub.group,
			Consumer: w.sub.consumer,
			MinIdle:  w.sub.claimMinIdle,
			Start:    start,
			Count:    w.sub.batchSize,
		}).Result()
		if err != nil {
			return claimed, fmt.Errorf("failed to claim stale entries on %s: %w", w.stream, err)
		}
		claimed += len(messages)
		if next == "0-0" || next == "" {
			return claimed, nil
		}
		start = next
	}
}

func (w *partitionWorker) run(ctx context.Context) error {
	if n, err := w.reclaim(ctx); err != nil {
		w.log.WithError(err).Warn("could not claim entries left by other consumers")
	} else if n > 0 {
		w.log.WithField("count", n).Info("claimed entries left by other consumers")
	}
	w.cursor = "0"

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.WithError(err).Warn("error reading messages")
			sleep(ctx, w.sub.retryDelay)
		}
	}
}

// poll reads one batch and processes it. While cursor is "0" the batch comes
// from this consumer's pending entries; once those are drained the worker
// switches to new entries.
func (w *partitionWorker) poll(ctx context.Context) error {
	block := w.sub.blockDuration
	if w.cursor != ">" {
		block = -1
	}

	streams, err := w.sub.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.sub.group,
		Consumer: w.sub.consumer,
		Streams:  []string{w.stream, w.cursor},
		Count:    w.sub.batchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		if w.cursor != ">" {
			w.cursor = ">"
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []redis.XMessage
	for _, st := range streams {
		messages = append(messages, st.Messages...)
	}
	if len(messages) == 0 {
		w.cursor = ">"
		return nil
	}

	for _, message := range messages {
		if err := w.process(ctx, message); err != nil {
			w.log.WithError(err).WithField("id", message.ID).Warn("message processing failed, will redeliver")
			// Go back to the pending list so the failed entry is retried
			// before anything newer on this partition.
			w.cursor = "0"
			sleep(ctx, w.sub.retryDelay)
			return nil
		}
		if err := w.sub.client.XAck(ctx, w.stream, w.sub.group, message.ID).Err(); err != nil {
			w.log.WithError(err).WithField("id", message.ID).Error("failed to ack message")
		}
	}
	return nil
}

func (w *partitionWorker) process(ctx context.Context, message redis.XMessage) error {
	msg, err := w.decode(message)
	if err == nil {
		err = w.sub.handler(ctx, msg)
	}
	if err != nil && apperrors.IsPermanent(err) {
		w.log.WithError(err).WithField("id", message.ID).Error("dropping message that cannot be processed")
		return nil
	}
	return err
}

func (w *partitionWorker) decode(message redis.XMessage) (Message, error) {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return Message{}, fmt.Errorf("%w: message %s has no event field", apperrors.ErrSerialization, message.ID)
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return Message{}, fmt.Errorf("%w: failed to unmarshal event: %w", apperrors.ErrSerialization, err)
	}

	return Message{
		Topic:     w.sub.topic,
		Stream:    w.stream,
		Partition: w.partition,
		ID:        message.ID,
		Event:     event,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
