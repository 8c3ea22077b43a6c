package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store persists tokens, balances, ledger entries and transactions.
// MemoryStore and PostgresStore implement this interface.
type Store interface {
	// CreateToken stores new token metadata. Returns ErrTokenExists if the
	// id is taken.
	CreateToken(ctx context.Context, t *Token) error

	// Token returns the metadata of id, or ErrUnknownToken.
	Token(ctx context.Context, id string) (*Token, error)

	// Balance returns the holding of account in token; zero when absent.
	Balance(ctx context.Context, accountID, tokenID string) (decimal.Decimal, error)

	// Balances returns every non-absent holding of account.
	Balances(ctx context.Context, accountID string) ([]Balance, error)

	// Circulating returns the sum of every account's balance in token.
	Circulating(ctx context.Context, tokenID string) (decimal.Decimal, error)

	// Entries returns the ledger chain in append order.
	Entries(ctx context.Context) ([]*Entry, error)

	// Transactions returns transactions touching account, newest first.
	// An empty account returns every transaction.
	Transactions(ctx context.Context, accountID string) ([]*Transaction, error)

	// Atomically runs fn with exclusive write access. Either every write fn
	// makes through Tx is applied, or none is.
	Atomically(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write view handed to Store.Atomically callbacks.
type Tx interface {
	Token(ctx context.Context, id string) (*Token, error)
	Balance(ctx context.Context, accountID, tokenID string) (decimal.Decimal, error)
	Circulating(ctx context.Context, tokenID string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, accountID, tokenID string, amount decimal.Decimal) error

	// Tip returns the index the next entry must take and the hash it must
	// link to.
	Tip(ctx context.Context) (next int, prevHash string, err error)
	AppendEntry(ctx context.Context, e *Entry) error
	SaveTransaction(ctx context.Context, t *Transaction) error
}
