package memory

import (
	"context"
	"errors"
	"sync"

	"incident-cloud/internal/eventing"
)

const (
	statusPending     = "pending"
	statusDispatching = "dispatching"
	statusSent        = "sent"
	statusFailed      = "failed"
)

type outboxRow struct {
	id       string
	env      eventing.Envelope
	status   string
	attempts int
}

// OutboxStore is an in-memory outbox used by tests and database-less runs.
type OutboxStore struct {
	mu          sync.Mutex
	rows        []*outboxRow
	maxAttempts int
}

// NewOutboxStore constructs a store; maxAttempts <= 0 means 10.
func NewOutboxStore(maxAttempts int) *OutboxStore {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &OutboxStore{maxAttempts: maxAttempts}
}

// Insert appends an envelope.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	_ = ctx
	id := eventing.NewEventID()
	s.mu.Lock()
	s.rows = append(s.rows, &outboxRow{id: id, env: env, status: statusPending})
	s.mu.Unlock()
	return id, nil
}

// ClaimPending reserves up to limit deliverable records in insertion order.
func (s *OutboxStore) ClaimPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []eventing.OutboxRecord
	for _, row := range s.rows {
		if len(result) >= limit {
			break
		}
		if row.attempts >= s.maxAttempts {
			continue
		}
		if row.status != statusPending && row.status != statusFailed {
			continue
		}
		row.status = statusDispatching
		result = append(result, eventing.OutboxRecord{ID: row.id, Envelope: row.env, Attempts: row.attempts})
	}
	return result, nil
}

// MarkSent marks a record as delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.update(id, func(row *outboxRow) {
		row.status = statusSent
	})
}

// MarkFailed marks a record for retry.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.update(id, func(row *outboxRow) {
		row.status = statusFailed
		row.attempts++
	})
}

// Pending counts records not yet delivered.
func (s *OutboxStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, row := range s.rows {
		if row.status != statusSent {
			count++
		}
	}
	return count
}

func (s *OutboxStore) update(id string, fn func(*outboxRow)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.id == id {
			fn(row)
			return nil
		}
	}
	return errors.New("outbox store: unknown record")
}

// ProcessedStore is an in-memory idempotency store.
type ProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewProcessedStore constructs a store.
func NewProcessedStore() *ProcessedStore {
	return &ProcessedStore{seen: make(map[string]struct{})}
}

// HasProcessed reports whether the consumer already handled the event.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	_, ok := s.seen[consumerName+"|"+eventID]
	s.mu.Unlock()
	return ok, nil
}

// MarkProcessed records the event for the consumer.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	_ = ctx
	s.mu.Lock()
	s.seen[consumerName+"|"+eventID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// DLQStore keeps failures in memory.
type DLQStore struct {
	mu       sync.Mutex
	failures map[string]error
}

// NewDLQStore constructs a store.
func NewDLQStore() *DLQStore {
	return &DLQStore{failures: make(map[string]error)}
}

// RecordFailure stores the last failure per event.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, err error) error {
	_ = ctx
	s.mu.Lock()
	s.failures[env.EventID] = err
	s.mu.Unlock()
	return nil
}

// Len returns the number of failed events.
func (s *DLQStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures)
}
