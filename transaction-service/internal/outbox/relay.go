package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/events"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/repository"
)

const (
	// MaxBackoff caps the delay between two attempts at the same message.
	MaxBackoff = 300 * time.Second
	// ClaimLease is how long a claimed message stays hidden from other runs.
	ClaimLease = 2 * time.Minute
)

// Publisher sends a stored envelope.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event events.Event) (events.PublishResult, error)
}

type Config struct {
	// Schedule is a robfig/cron expression, e.g. "@every 30s".
	Schedule  string
	BatchSize int
}

// Relay resends integration events whose publish did not complete when the
// state change was committed.
type Relay struct {
	uow       repository.UnitOfWork
	publisher Publisher
	cfg       Config
	now       func() time.Time
}

func NewRelay(uow repository.UnitOfWork, publisher Publisher, cfg Config) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30s"
	}
	return &Relay{uow: uow, publisher: publisher, cfg: cfg, now: time.Now}
}

// Start schedules the relay and stops it when ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	log := logrus.WithField("component", "outbox-relay")
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(log)),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	if _, err := c.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("outbox relay run failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid outbox schedule %q: %w", r.cfg.Schedule, err)
	}

	c.Start()
	log.WithField("schedule", r.cfg.Schedule).Info("outbox relay started")

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		log.Info("outbox relay stopped")
	}()
	return nil
}

// RunOnce publishes one batch of due messages and returns how many were sent.
// A message that fails is rescheduled and does not stop the batch.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	claimed, err := r.claim(ctx)
	if err != nil {
		return 0, err
	}

	outbox := r.uow.Stores().Outbox
	sent := 0
	for _, msg := range claimed {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		published, err := r.relay(ctx, outbox, msg)
		if err != nil {
			return sent, err
		}
		if published {
			sent++
		}
	}
	return sent, nil
}

// claim takes a batch of due messages and pushes their next attempt out by
// ClaimLease, so other runs skip them while they are published. A relay that
// dies mid-batch leaves its messages due again once the lease runs out.
func (r *Relay) claim(ctx context.Context) ([]repository.OutboxMessage, error) {
	var claimed []repository.OutboxMessage
	err := r.uow.Do(ctx, func(ctx context.Context, s repository.Stores) error {
		now := r.now().UTC()
		due, err := s.Outbox.Due(ctx, now, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, msg := range due {
			if err := s.Outbox.Reschedule(ctx, msg.ID, msg.Attempts, msg.LastError, now.Add(ClaimLease)); err != nil {
				return err
			}
		}
		claimed = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// relay returns an error only when the outbox itself could not be updated.
func (r *Relay) relay(ctx context.Context, outbox repository.OutboxRepository, msg repository.OutboxMessage) (bool, error) {
	log := logrus.WithFields(logrus.Fields{
		"outbox_id": msg.ID,
		"topic":     msg.Topic,
		"key":       msg.Key,
		"attempts":  msg.Attempts,
	})

	var event events.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		err = fmt.Errorf("%w: failed to decode outbox payload: %w", apperrors.ErrSerialization, err)
		log.WithError(err).Error("outbox message is unreadable")
		return false, r.reschedule(ctx, outbox, msg, err)
	}

	result, err := r.publisher.PublishEvent(ctx, msg.Topic, event)
	if err != nil {
		log.WithError(err).Warn("outbox publish failed")
		return false, r.reschedule(ctx, outbox, msg, err)
	}
	if err := outbox.MarkPublished(ctx, msg.ID, r.now().UTC()); err != nil {
		return false, err
	}
	log.WithFields(logrus.Fields{
		"stream":     result.Stream,
		"message_id": result.ID,
	}).Info("outbox message published")
	return true, nil
}

func (r *Relay) reschedule(ctx context.Context, outbox repository.OutboxRepository, msg repository.OutboxMessage, cause error) error {
	attempts := msg.Attempts + 1
	return outbox.Reschedule(ctx, msg.ID, attempts, cause.Error(), r.now().UTC().Add(Backoff(attempts)))
}

// Backoff is the delay before attempt number attempts+1: 2^attempts seconds,
// capped at MaxBackoff.
func Backoff(attempts int) time.Duration {
	if attempts >= 9 {
		return MaxBackoff
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}
