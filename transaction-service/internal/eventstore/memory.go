package eventstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FernandoCandela/app-nodejs-codechallenge/shared/apperrors"
	"github.com/FernandoCandela/app-nodejs-codechallenge/transaction-service/internal/domain"
)

// MemoryStore is an in-process Store for tests and STORAGE_DRIVER=memory.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byAgg  map[uuid.UUID][]StoredEvent
	keys   map[uuid.UUID]map[string]struct{}
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAgg: make(map[uuid.UUID][]StoredEvent),
		keys:  make(map[uuid.UUID]map[string]struct{}),
		now:   time.Now,
	}
}

func (s *MemoryStore) Append(ctx context.Context, event domain.Event, idempotencyKey string) (StoredEvent, error) {
	payload, err := domain.Encode(event)
	if err != nil {
		return StoredEvent{}, err
	}
	if idempotencyKey == "" {
		idempotencyKey = IdempotencyKeyFor(event)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := event.AggregateID()
	if _, dup := s.keys[id][idempotencyKey]; dup {
		return StoredEvent{}, fmt.Errorf("%w: %s already applied to %s", apperrors.ErrDuplicateEvent, idempotencyKey, id)
	}

	s.nextID++
	stored := StoredEvent{
		ID:             s.nextID,
		AggregateID:    id,
		AggregateType:  domain.AggregateType,
		EventType:      event.EventType(),
		Payload:        payload,
		Version:        len(s.byAgg[id]) + 1,
		OccurredAt:     event.OccurredAt().UTC(),
		Metadata:       newMetadata(event, s.now()),
		IdempotencyKey: idempotencyKey,
	}
	s.byAgg[id] = append(s.byAgg[id], stored)
	if s.keys[id] == nil {
		s.keys[id] = make(map[string]struct{})
	}
	s.keys[id][idempotencyKey] = struct{}{}
	return stored, nil
}

func (s *MemoryStore) Events(ctx context.Context, aggregateID uuid.UUID) ([]StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredEvent, len(s.byAgg[aggregateID]))
	copy(out, s.byAgg[aggregateID])
	return out, nil
}

func (s *MemoryStore) Exists(ctx context.Context, aggregateID uuid.UUID) (bool, error) {
	n, err := s.Count(ctx, aggregateID)
	return n > 0, err
}

func (s *MemoryStore) Count(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAgg[aggregateID]), nil
}

func (s *MemoryStore) EventsByType(ctx context.Context, eventType string) ([]StoredEvent, error) {
	return s.filter(func(e StoredEvent) bool { return e.EventType == eventType }), nil
}

func (s *MemoryStore) EventsByAggregateType(ctx context.Context, aggregateType string) ([]StoredEvent, error) {
	return s.filter(func(e StoredEvent) bool { return e.AggregateType == aggregateType }), nil
}

func (s *MemoryStore) filter(keep func(StoredEvent) bool) []StoredEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []StoredEvent{}
	for _, events := range s.byAgg {
		for _, e := range events {
			if keep(e) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out
}

// MemorySnapshot is a point-in-time copy of a MemoryStore.
type MemorySnapshot struct {
	nextID int64
	byAgg  map[uuid.UUID][]StoredEvent
	keys   map[uuid.UUID]map[string]struct{}
}

// Snapshot copies the store so a failed unit of work can be undone.
func (s *MemoryStore) Snapshot() MemorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := MemorySnapshot{
		nextID: s.nextID,
		byAgg:  make(map[uuid.UUID][]StoredEvent, len(s.byAgg)),
		keys:   make(map[uuid.UUID]map[string]struct{}, len(s.keys)),
	}
	for id, events := range s.byAgg {
		snap.byAgg[id] = append([]StoredEvent(nil), events...)
	}
	for id, keys := range s.keys {
		m := make(map[string]struct{}, len(keys))
		for k := range keys {
			m[k] = struct{}{}
		}
		snap.keys[id] = m
	}
	return snap
}

// Restore replaces the store contents with snap.
func (s *MemoryStore) Restore(snap MemorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.byAgg = snap.byAgg
	s.keys = snap.keys
}
