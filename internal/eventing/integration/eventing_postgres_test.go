package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"incident-cloud/internal/eventing"
	"incident-cloud/internal/eventing/eventbus"
	eventingrepo "incident-cloud/internal/eventing/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type incidentTouched struct {
	IncidentID string    `json:"incident_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func openEventingDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if !tableExists(db, "event_outbox") ||
		!tableExists(db, "processed_events") ||
		!tableExists(db, "dead_letter_events") {
		db.Close()
		t.Skip("missing tables; run migrations")
	}
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM processed_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM dead_letter_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox")
	return db
}

func TestEventing_IdempotentConsumer(t *testing.T) {
	db := openEventingDB(t)
	defer db.Close()
	ctx := context.Background()

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry(incidentTouched{})
	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, nil, baseBus, nil)

	count := 0
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[incidentTouched](), "consumer-a", func(ctx context.Context, event any) error {
		count++
		return nil
	}, processedStore)

	ctx = eventing.WithEventID(ctx, "evt-dup-001")
	payload := incidentTouched{IncidentID: "INC-1", OccurredAt: time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)}
	if err := publisher.Publish(ctx, payload); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	if err := publisher.Publish(ctx, payload); err != nil {
		t.Fatalf("publish duplicate: %v", err)
	}

	if _, err := dispatcher.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected handler once, got %d", count)
	}
}

func TestEventing_DLQOnFailure(t *testing.T) {
	db := openEventingDB(t)
	defer db.Close()
	ctx := context.Background()

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry(incidentTouched{})
	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, baseBus, nil)

	eventing.Subscribe(baseBus, eventbus.EventTypeOf[incidentTouched](), "consumer-fail", func(ctx context.Context, event any) error {
		return errors.New("boom")
	}, processedStore)

	if err := publisher.Publish(ctx, incidentTouched{IncidentID: "INC-2"}); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	_, _ = dispatcher.Dispatch(ctx, 10)

	letters, err := dlqStore.List(ctx, 10)
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected 1 dlq record, got %d", len(letters))
	}
	if letters[0].Attempts != 2 || letters[0].Error != "boom" {
		t.Fatalf("unexpected dlq record: %+v", letters[0])
	}
}

func TestEventing_ConcurrentDispatchersNeverShareRecords(t *testing.T) {
	db := openEventingDB(t)
	defer db.Close()
	ctx := context.Background()

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry(incidentTouched{})
	outboxStore := eventingrepo.NewOutboxStore(db)
	publisher := eventing.NewPublisher(outboxStore, nil, baseBus, nil)

	var mu sync.Mutex
	seen := make(map[string]int)
	baseBus.Subscribe(eventbus.EventTypeOf[incidentTouched](), func(ctx context.Context, event any) error {
		env, _ := eventing.EnvelopeFromContext(ctx)
		mu.Lock()
		seen[env.EventID]++
		mu.Unlock()
		return nil
	})

	const total = 40
	for i := 0; i < total; i++ {
		if err := publisher.Publish(ctx, incidentTouched{IncidentID: "INC-3"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, nil)
			for {
				result, err := dispatcher.Dispatch(ctx, 5)
				if err != nil || result.Claimed == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d events delivered, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("event %s delivered %d times", id, n)
		}
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
