//go:build integration

package audit_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sonicalchemy/studio/internal/audit"
	"go.uber.org/zap"
)

func setupPostgresChain(t *testing.T) (*audit.PostgresChain, *pgxpool.Pool) {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	db, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	db.Exec(context.Background(), "DELETE FROM audit_chain")
	t.Cleanup(db.Close)

	return audit.NewPostgresChain(db, zap.NewNop()), db
}

func TestPostgresChain_roundTripVerifies(t *testing.T) {
	c, db := setupPostgresChain(t)
	keys := keyRing{}

	e1, err := c.Append(ctx, "user-777", "session.init", map[string]any{"version": "1.0.0-PRO"}, keys.key(t, "user-777"))
	if err != nil {
		t.Fatal(err)
	}
	e2, err := c.Append(ctx, "user-777", "transaction.transfer", map[string]any{"to": "agent-remediation-001", "amount": 100, "ratio": 0.25}, keys.key(t, "user-777"))
	if err != nil {
		t.Fatal(err)
	}
	if e1.PrevHash != audit.GenesisHash || e2.PrevHash != e1.Hash {
		t.Fatal("entries not linked")
	}

	// A fresh chain over the same pool sees the persisted history.
	reopened := audit.NewPostgresChain(db, zap.NewNop())
	if err := reopened.Verify(ctx); err != nil {
		t.Fatalf("Verify() after reload: %v", err)
	}
	if err := reopened.VerifySignatures(ctx, keys); err != nil {
		t.Fatalf("VerifySignatures() after reload: %v", err)
	}
	root, _ := reopened.Root(ctx)
	if root != e2.Hash {
		t.Errorf("Root(): got %q, want %q", root, e2.Hash)
	}

	if _, err := db.Exec(ctx, `UPDATE audit_chain SET details = '{"amount":5}' WHERE idx = 1`); err != nil {
		t.Fatal(err)
	}
	if err := reopened.Verify(ctx); err == nil {
		t.Fatal("Verify() should fail after a row was edited")
	}
}
