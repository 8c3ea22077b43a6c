package audit

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent Append calls across every server
// instance sharing the database.
const advisoryLockKey = int64(2_031_554_907)

const selectColumns = `idx, id, timestamp, entity_id, event_type, details, hash, prev_hash, signature`

// PostgresChain persists the audit chain to PostgreSQL.
// It implements the Chain interface.
type PostgresChain struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresChain creates a PostgresChain backed by the given connection pool.
func NewPostgresChain(pool *pgxpool.Pool, logger *zap.Logger) *PostgresChain {
	return &PostgresChain{pool: pool, logger: logger}
}

// Append implements Chain.
// It acquires a transaction-scoped advisory lock, reads the chain tail,
// computes and signs the new entry, and inserts it in one transaction.
func (c *PostgresChain) Append(ctx context.Context, entityID, eventType string, details map[string]any, key ed25519.PrivateKey) (*Entry, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, ErrNoSigningKey
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	idx, prevHash := 0, GenesisHash
	var lastIdx int
	var lastHash string
	err = tx.QueryRow(ctx,
		"SELECT idx, hash FROM audit_chain ORDER BY idx DESC LIMIT 1",
	).Scan(&lastIdx, &lastHash)
	switch {
	case err == nil:
		idx, prevHash = lastIdx+1, lastHash
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, fmt.Errorf("read chain tail: %w", err)
	}

	entry := cloneEntry(&Entry{
		Index:     idx,
		ID:        uuid.New().String(),
		Timestamp: now(),
		EntityID:  entityID,
		EventType: eventType,
		Details:   details,
		PrevHash:  prevHash,
	})
	if entry.Hash, err = hashEntry(entry); err != nil {
		return nil, err
	}
	if entry.Signature, err = sign(entry.Hash, key); err != nil {
		return nil, err
	}

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return nil, fmt.Errorf("marshal details: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_chain (idx, id, timestamp, entity_id, event_type, details, hash, prev_hash, signature)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.Index, entry.ID, entry.Timestamp, entry.EntityID, entry.EventType,
		string(detailsJSON), entry.Hash, entry.PrevHash, entry.Signature,
	); err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit audit tx: %w", err)
	}

	c.logger.Debug("audit entry appended",
		zap.Int("idx", entry.Index),
		zap.String("event_type", entry.EventType),
		zap.String("entity_id", entry.EntityID),
	)
	return entry, nil
}

// List implements Chain.
func (c *PostgresChain) List(ctx context.Context) ([]*Entry, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+selectColumns+` FROM audit_chain ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("query audit chain: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get implements Chain.
func (c *PostgresChain) Get(ctx context.Context, index int) (*Entry, error) {
	row := c.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM audit_chain WHERE idx = $1`, index)
	e, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("get audit entry %d: %w", index, err)
	}
	return e, nil
}

// Len implements Chain.
func (c *PostgresChain) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_chain").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// Root implements Chain.
func (c *PostgresChain) Root(ctx context.Context) (string, error) {
	var hash string
	err := c.pool.QueryRow(ctx, "SELECT hash FROM audit_chain ORDER BY idx DESC LIMIT 1").Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("get audit root: %w", err)
	}
	return hash, nil
}

// Verify implements Chain. O(n) in chain length.
func (c *PostgresChain) Verify(ctx context.Context) error {
	entries, err := c.List(ctx)
	if err != nil {
		return err
	}
	return verifyEntries(entries)
}

// VerifySignatures implements Chain.
func (c *PostgresChain) VerifySignatures(ctx context.Context, keys KeyLookup) error {
	entries, err := c.List(ctx)
	if err != nil {
		return err
	}
	return verifySignatures(entries, keys)
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	var details string
	if err := row.Scan(
		&e.Index, &e.ID, &e.Timestamp, &e.EntityID, &e.EventType,
		&details, &e.Hash, &e.PrevHash, &e.Signature,
	); err != nil {
		return nil, fmt.Errorf("scan audit row: %w", err)
	}
	e.Timestamp = e.Timestamp.UTC()

	// UseNumber keeps numeric literals byte-identical to what was hashed.
	dec := json.NewDecoder(bytes.NewReader([]byte(details)))
	dec.UseNumber()
	if err := dec.Decode(&e.Details); err != nil {
		return nil, fmt.Errorf("decode details of entry %d: %w", e.Index, err)
	}
	return e, nil
}
