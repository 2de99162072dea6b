package postgres

import (
	"context"
	"testing"
	"time"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	expectState := func(stage string, version int64, applied, pending int) {
		t.Helper()
		state, err := store.MigrationStatus(ctx)
		if err != nil {
			t.Fatalf("migration status %s: %v", stage, err)
		}
		if state.Version != version || state.Applied != applied || state.Pending != pending {
			t.Fatalf("unexpected state %s: %+v", stage, state)
		}
	}

	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("migrate down reset: %v", err)
	}
	expectState("after reset", 0, 0, 2)

	if err := store.MigrateUp(ctx, 1); err != nil {
		t.Fatalf("migrate up one step: %v", err)
	}
	expectState("after up 1", 1, 1, 1)

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up all: %v", err)
	}
	expectState("after up all", 2, 2, 0)

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("idempotent migrate up: %v", err)
	}
	expectState("after idempotent up", 2, 2, 0)

	if err := store.MigrateDown(ctx, 0); err != nil {
		t.Fatalf("migrate down default step: %v", err)
	}
	expectState("after down default", 1, 1, 1)

	if err := store.MigrateDown(ctx, 5); err != nil {
		t.Fatalf("migrate down rest: %v", err)
	}
	expectState("after down rest", 0, 0, 2)

	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down on empty should be no-op: %v", err)
	}

	// Остальные тесты пакета ожидают применённую схему.
	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("restore schema: %v", err)
	}
}

func TestMigrator_NilStoreGuards(t *testing.T) {
	var nilStore *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := nilStore.MigrateUp(ctx, 0); err == nil {
		t.Fatal("expected error for nil store MigrateUp")
	}
	if err := nilStore.MigrateDown(ctx, 1); err == nil {
		t.Fatal("expected error for nil store MigrateDown")
	}
	if _, err := nilStore.MigrationStatus(ctx); err == nil {
		t.Fatal("expected error for nil store MigrationStatus")
	}
}
