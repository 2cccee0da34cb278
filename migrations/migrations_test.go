package migrations

import (
	"context"
	"strings"
	"testing"
)

func TestMigrationsContainCoreTables(t *testing.T) {
	names, err := Files()
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(names) == 0 || names[0] != "0001_init.sql" {
		t.Fatalf("unexpected migrations: %v", names)
	}
	body, err := Read(names[0])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	for _, table := range []string{
		"employees",
		"incidents",
		"incident_history",
		"notifications",
		"event_outbox",
		"processed_events",
		"dead_letter_events",
		"audit_logs",
	} {
		if !strings.Contains(body, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("missing table %s", table)
		}
	}
	for _, column := range []string{"version BIGINT", "total_time_seconds", "claimed_at", "notification_id TEXT NOT NULL UNIQUE"} {
		if !strings.Contains(body, column) {
			t.Fatalf("missing column %q", column)
		}
	}
}

func TestApplyRequiresDB(t *testing.T) {
	if err := Apply(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}
