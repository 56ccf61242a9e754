//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/fortec/gateway/internal/testutil"
)

// ============================================================================
// Account Repository Integration Tests
// ============================================================================

func TestIntegrationRepository(t *testing.T) {
	runStoreTests(t, func(t *testing.T) accountStore {
		_, repo := newAccountTestEnv(t)
		return repo
	})
}

func TestIntegrationMigrate_Idempotent(t *testing.T) {
	ctx, repo := newAccountTestEnv(t)

	applied, err := repo.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("first Migrate should apply the embedded migrations")
	}

	again, err := repo.Migrate(ctx)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second Migrate applied %v, want nothing", again)
	}

	for _, col := range []string{"key_prefix", "key_hash", "text_last_used", "month_start", "daily_limit"} {
		var exists bool
		err := repo.Pool().QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'accounts' AND column_name = $1
			)`, col).Scan(&exists)
		if err != nil {
			t.Fatalf("check column %s: %v", col, err)
		}
		if !exists {
			t.Errorf("column %s missing", col)
		}
	}
}

// newAccountTestEnv connects to DATABASE_URL, serializes on an advisory
// lock and recreates an empty schema without a migration ledger.
func newAccountTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	repo, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	return ctx, repo
}
