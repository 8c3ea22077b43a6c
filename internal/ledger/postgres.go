package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// advisoryLockKey serialises ledger writers across every server instance.
// It must differ from the audit chain's key.
const advisoryLockKey = int64(2_031_554_911)

// PostgresStore persists the token ledger to PostgreSQL.
// Amounts travel as NUMERIC text so no precision is lost.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CreateToken implements Store.
func (s *PostgresStore) CreateToken(ctx context.Context, t *Token) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tokens (id, name, symbol, decimals, total_supply, owner_id, issued_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Name, t.Symbol, t.Decimals, t.TotalSupply.String(), t.OwnerID, t.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTokenExists, t.ID)
	}
	return nil
}

// Token implements Store.
func (s *PostgresStore) Token(ctx context.Context, id string) (*Token, error) {
	return getToken(ctx, s.pool, id)
}

func getToken(ctx context.Context, q queryer, id string) (*Token, error) {
	t := &Token{}
	var supply string
	err := q.QueryRow(ctx,
		`SELECT id, name, symbol, decimals, total_supply::text, owner_id, issued_at
		 FROM tokens WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Symbol, &t.Decimals, &supply, &t.OwnerID, &t.IssuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get token %s: %w", id, err)
	}
	if t.TotalSupply, err = decimal.NewFromString(supply); err != nil {
		return nil, fmt.Errorf("parse supply of %s: %w", id, err)
	}
	t.IssuedAt = t.IssuedAt.UTC()
	return t, nil
}

// Balance implements Store.
func (s *PostgresStore) Balance(ctx context.Context, accountID, tokenID string) (decimal.Decimal, error) {
	return getBalance(ctx, s.pool, accountID, tokenID, false)
}

func getBalance(ctx context.Context, q queryer, accountID, tokenID string, forUpdate bool) (decimal.Decimal, error) {
	query := `SELECT amount::text FROM token_balances WHERE account_id = $1 AND token_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var amount string
	err := q.QueryRow(ctx, query, accountID, tokenID).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return decimal.NewFromString(amount)
}

// Balances implements Store.
func (s *PostgresStore) Balances(ctx context.Context, accountID string) ([]Balance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, token_id, amount::text FROM token_balances
		 WHERE account_id = $1 ORDER BY token_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var b Balance
		var amount string
		if err := rows.Scan(&b.AccountID, &b.TokenID, &amount); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Circulating implements Store.
func (s *PostgresStore) Circulating(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return circulating(ctx, s.pool, tokenID)
}

func circulating(ctx context.Context, q queryer, tokenID string) (decimal.Decimal, error) {
	var sum string
	if err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM token_balances WHERE token_id = $1`, tokenID,
	).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum balances: %w", err)
	}
	return decimal.NewFromString(sum)
}

const entryColumns = `idx, id, transaction_id, account_id, token_id, amount::text, entry_type,
	balance_before::text, balance_after::text, timestamp, hash, prev_hash`

// Entries implements Store.
func (s *PostgresStore) Entries(ctx context.Context) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		var amount, before, after string
		if err := rows.Scan(
			&e.Index, &e.ID, &e.TransactionID, &e.AccountID, &e.TokenID, &amount, &e.Type,
			&before, &after, &e.Timestamp, &e.Hash, &e.PrevHash,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if e.BalanceBefore, err = decimal.NewFromString(before); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Transactions implements Store.
func (s *PostgresStore) Transactions(ctx context.Context, accountID string) ([]*Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, initiator_id, source_account_id, destination_account_id, token_id,
		        amount::text, timestamp, status, risk_score, routing_path, ledger_entry_ids
		 FROM transactions
		 WHERE $1 = '' OR source_account_id = $1 OR destination_account_id = $1
		 ORDER BY timestamp DESC, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t := &Transaction{}
		var amount string
		if err := rows.Scan(
			&t.ID, &t.Type, &t.InitiatorID, &t.SourceAccountID, &t.DestinationAccountID, &t.TokenID,
			&amount, &t.Timestamp, &t.Status, &t.RiskScore, &t.RoutingPath, &t.LedgerEntryIDs,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Atomically implements Store. fn runs inside one SQL transaction holding a
// transaction-scoped advisory lock; balance reads take row locks.
func (s *PostgresStore) Atomically(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Token(ctx context.Context, id string) (*Token, error) {
	return getToken(ctx, t.tx, id)
}

func (t *pgTx) Balance(ctx context.Context, accountID, tokenID string) (decimal.Decimal, error) {
	return getBalance(ctx, t.tx, accountID, tokenID, true)
}

func (t *pgTx) Circulating(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return circulating(ctx, t.tx, tokenID)
}

func (t *pgTx) SetBalance(ctx context.Context, accountID, tokenID string, amount decimal.Decimal) error {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO token_balances (account_id, token_id, amount)
		 VALUES ($1, $2, $3::numeric)
		 ON CONFLICT (account_id, token_id) DO UPDATE SET amount = EXCLUDED.amount`,
		accountID, tokenID, amount.String(),
	); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

func (t *pgTx) Tip(ctx context.Context) (int, string, error) {
	var idx int
	var hash string
	err := t.tx.QueryRow(ctx,
		"SELECT idx, hash FROM ledger_entries ORDER BY idx DESC LIMIT 1",
	).Scan(&idx, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, GenesisHash, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read ledger tail: %w", err)
	}
	return idx + 1, hash, nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e *Entry) error {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_entries (idx, id, transaction_id, account_id, token_id, amount,
		                             entry_type, balance_before, balance_after, timestamp, hash, prev_hash)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8::numeric, $9::numeric, $10, $11, $12)`,
		e.Index, e.ID, e.TransactionID, e.AccountID, e.TokenID, e.Amount.String(),
		string(e.Type), e.BalanceBefore.String(), e.BalanceAfter.String(), e.Timestamp, e.Hash, e.PrevHash,
	); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (t *pgTx) SaveTransaction(ctx context.Context, tr *Transaction) error {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, type, initiator_id, source_account_id, destination_account_id,
		                           token_id, amount, timestamp, status, risk_score, routing_path, ledger_entry_ids)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12)`,
		tr.ID, string(tr.Type), tr.InitiatorID, tr.SourceAccountID, tr.DestinationAccountID,
		tr.TokenID, tr.Amount.String(), tr.Timestamp, string(tr.Status), tr.RiskScore,
		tr.RoutingPath, tr.LedgerEntryIDs,
	); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}
