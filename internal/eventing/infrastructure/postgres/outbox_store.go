package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"incident-cloud/internal/eventing"
)

const (
	defaultOutboxTable    = "event_outbox"
	defaultMaxAttempts    = 10
	defaultClaimStaleness = time.Minute
)

// OutboxStore is a Postgres implementation for outbox records.
type OutboxStore struct {
	db          *sql.DB
	table       string
	maxAttempts int
	staleAfter  time.Duration
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{
		db:          db,
		table:       defaultOutboxTable,
		maxAttempts: defaultMaxAttempts,
		staleAfter:  defaultClaimStaleness,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// WithMaxAttempts stops redelivery after the given number of failures.
func WithMaxAttempts(attempts int) OutboxOption {
	return func(store *OutboxStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// WithClaimStaleness sets when an unfinished claim may be taken over.
func WithClaimStaleness(after time.Duration) OutboxOption {
	return func(store *OutboxStore) {
		if after > 0 {
			store.staleAfter = after
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert writes an envelope to outbox.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	return s.insert(ctx, s.db, env)
}

// InsertTx writes an envelope through tx so it commits with the caller's change.
func (s *OutboxStore) InsertTx(ctx context.Context, tx *sql.Tx, env eventing.Envelope) (string, error) {
	if s == nil || tx == nil {
		return "", errors.New("outbox store: nil tx")
	}
	return s.insert(ctx, tx, env)
}

func (s *OutboxStore) insert(ctx context.Context, db execer, env eventing.Envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	outboxID := eventing.NewEventID()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	event_id,
	event_type,
	payload,
	status,
	attempts,
	created_at
) VALUES (
	$1, $2, $3, $4, 'pending', 0, $5
)
ON CONFLICT (id)
DO NOTHING`, s.table)

	_, err = db.ExecContext(ctx, query, outboxID, env.EventID, env.EventType, payload, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return outboxID, nil
}

// ClaimPending reserves deliverable records with SKIP LOCKED so concurrent
// dispatchers never hand out the same record. Claims older than the
// staleness window are considered abandoned and taken over.
func (s *OutboxStore) ClaimPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`
UPDATE %[1]s
SET status = 'dispatching', claimed_at = $1
WHERE id IN (
	SELECT id
	FROM %[1]s
	WHERE attempts < $2
		AND (status IN ('pending', 'failed')
			OR (status = 'dispatching' AND claimed_at < $3))
	ORDER BY created_at ASC
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)
RETURNING id, payload, attempts, created_at`, s.table)

	rows, err := s.db.QueryContext(ctx, query, now, s.maxAttempts, now.Add(-s.staleAfter), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type claimed struct {
		record    eventing.OutboxRecord
		createdAt time.Time
	}
	var batch []claimed
	for rows.Next() {
		var id string
		var payload []byte
		var attempts int
		var createdAt time.Time
		if err := rows.Scan(&id, &payload, &attempts, &createdAt); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		batch = append(batch, claimed{
			record:    eventing.OutboxRecord{ID: id, Envelope: env, Attempts: attempts},
			createdAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING carries no ordering guarantee.
	for i := 1; i < len(batch); i++ {
		for j := i; j > 0 && batch[j].createdAt.Before(batch[j-1].createdAt); j-- {
			batch[j], batch[j-1] = batch[j-1], batch[j]
		}
	}
	result := make([]eventing.OutboxRecord, 0, len(batch))
	for _, item := range batch {
		result = append(result, item.record)
	}
	return result, nil
}

// MarkSent marks outbox record as sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'sent', sent_at = $1
WHERE id = $2`, s.table)
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

// MarkFailed marks outbox record as failed and increments attempts.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'failed', attempts = attempts + 1
WHERE id = $1`, s.table)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}
