package eventing

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"reflect"
	"time"

	"incident-cloud/internal/eventing/eventbus"
	"incident-cloud/internal/observability/metrics"
)

// Publisher writes events to outbox and optionally triggers dispatch.
type Publisher struct {
	outbox   OutboxWriter
	dispatch *Dispatcher
	sub      Subscriber
	logger   *log.Logger
}

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// TxOutboxWriter inserts outbox records inside a caller-owned transaction.
type TxOutboxWriter interface {
	InsertTx(ctx context.Context, tx *sql.Tx, env Envelope) (string, error)
}

// Subscriber registers handlers.
type Subscriber interface {
	Subscribe(eventType string, handler eventbus.EventHandler)
}

// NewPublisher constructs a publisher. With a non-nil dispatcher every
// publish is followed by an immediate dispatch attempt.
func NewPublisher(outbox OutboxWriter, dispatch *Dispatcher, sub Subscriber, logger *log.Logger) *Publisher {
	return &Publisher{outbox: outbox, dispatch: dispatch, sub: sub, logger: logger}
}

// Publish writes the event to outbox and triggers dispatch.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	if err := p.Record(ctx, event); err != nil {
		return err
	}
	p.Flush(ctx)
	return nil
}

// Record writes the event to outbox without dispatching it.
func (p *Publisher) Record(ctx context.Context, event any) error {
	if p == nil || p.outbox == nil {
		metrics.ObserveOutboxPublish(metrics.ResultSuccess, 0)
		return nil
	}
	return p.record(ctx, event, func(env Envelope) error {
		_, err := p.outbox.Insert(ctx, env)
		return err
	})
}

// RecordTx writes the event through tx, so the record commits or rolls back
// together with the caller's own writes. Dispatch is left to Flush once the
// caller has committed.
func (p *Publisher) RecordTx(ctx context.Context, tx *sql.Tx, event any) error {
	if p == nil || p.outbox == nil {
		metrics.ObserveOutboxPublish(metrics.ResultSuccess, 0)
		return nil
	}
	writer, ok := p.outbox.(TxOutboxWriter)
	if !ok {
		return errors.New("eventing: outbox does not support transactional inserts")
	}
	if tx == nil {
		return errors.New("eventing: nil transaction")
	}
	return p.record(ctx, event, func(env Envelope) error {
		_, err := writer.InsertTx(ctx, tx, env)
		return err
	})
}

// Flush runs one immediate dispatch pass. The background dispatcher picks up
// anything left behind.
func (p *Publisher) Flush(ctx context.Context) {
	if p == nil || p.dispatch == nil {
		return
	}
	if _, err := p.dispatch.Dispatch(ctx, 1); err != nil && p.logger != nil {
		p.logger.Printf("outbox_publish dispatch: %v", err)
	}
}

func (p *Publisher) record(ctx context.Context, event any, insert func(Envelope) error) error {
	start := time.Now()
	env, err := BuildEnvelope(event, MetaFromContext(ctx))
	if err != nil {
		metrics.ObserveOutboxPublish(metrics.ResultError, time.Since(start))
		return err
	}
	if err := insert(env); err != nil {
		metrics.ObserveOutboxPublish(metrics.ResultError, time.Since(start))
		return err
	}
	duration := time.Since(start)
	metrics.ObserveOutboxPublish(metrics.ResultSuccess, duration)
	if duration > 50*time.Millisecond && p.logger != nil {
		p.logger.Printf("outbox_publish duration_ms=%d result=%s event_type=%s",
			duration.Milliseconds(),
			metrics.ResultSuccess,
			reflect.TypeOf(event).String(),
		)
	}
	return nil
}

// Subscribe delegates to the underlying subscriber when available.
func (p *Publisher) Subscribe(eventType string, handler eventbus.EventHandler) {
	if p == nil || p.sub == nil {
		return
	}
	p.sub.Subscribe(eventType, handler)
}
