// Package ledger implements the programmable token rail: token issuance,
// per-account balances, and single-step transfers recorded as hash-chained
// double-entry ledger entries.
//
// Every balance change happens inside Store.Atomically, which serialises
// writers and applies all of a transfer's effects or none of them.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// GenesisHash is the PrevHash of the first ledger entry. The ledger chain is
// independent of the audit chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

var (
	// ErrInvalidAmount is returned for non-positive amounts or amounts with
	// more precision than the token allows.
	ErrInvalidAmount = errors.New("amount must be positive and within token precision")

	// ErrInsufficientFunds is returned when the source balance is below the
	// requested amount.
	ErrInsufficientFunds = errors.New("insufficient balance")

	// ErrUnknownToken is returned when a token id has not been issued.
	ErrUnknownToken = errors.New("unknown token")

	// ErrTokenExists is returned when a token id is issued twice.
	ErrTokenExists = errors.New("token already issued")

	// ErrInvalidToken is returned for malformed token metadata.
	ErrInvalidToken = errors.New("invalid token metadata")

	// ErrSameAccount is returned when source and destination are equal.
	ErrSameAccount = errors.New("source and destination accounts are the same")

	// ErrInvalidAccount is returned for an empty account id.
	ErrInvalidAccount = errors.New("account id is required")

	// ErrUnknownRail is returned when a transfer names an inactive or
	// unknown settlement rail.
	ErrUnknownRail = errors.New("unknown settlement rail")

	// ErrSupplyExceeded is returned when funding would put more of a token
	// into circulation than its total supply.
	ErrSupplyExceeded = errors.New("funding exceeds token total supply")
)

// Token is the immutable metadata of an issued token.
type Token struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    int             `json:"decimals"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	OwnerID     string          `json:"owner_id"`
	IssuedAt    time.Time       `json:"issuance_date"`
}

// Balance is the holding of one account in one token.
type Balance struct {
	AccountID string          `json:"account_id"`
	TokenID   string          `json:"token_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// EntryType is the side of a ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
	EntryFee    EntryType = "fee"
)

// Entry is one hash-linked record of a single balance movement.
type Entry struct {
	Index         int             `json:"index"`
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	TokenID       string          `json:"token_id"`
	Amount        decimal.Decimal `json:"amount"` // signed delta
	Type          EntryType       `json:"entry_type"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Timestamp     time.Time       `json:"timestamp"`
	Hash          string          `json:"hash"`
	PrevHash      string          `json:"prev_hash"`
}

// TxType classifies a transaction.
type TxType string

const (
	TxTransfer TxType = "transfer"
	TxMint     TxType = "mint"
)

// TxStatus is the outcome of a transaction.
type TxStatus string

const (
	StatusCompleted TxStatus = "completed"
	StatusFailed    TxStatus = "failed"
)

// Transaction is created together with its ledger entries.
type Transaction struct {
	ID                   string          `json:"id"`
	Type                 TxType          `json:"type"`
	InitiatorID          string          `json:"initiator_id"`
	SourceAccountID      string          `json:"source_account_id,omitempty"`
	DestinationAccountID string          `json:"destination_account_id,omitempty"`
	TokenID              string          `json:"token_id"`
	Amount               decimal.Decimal `json:"amount"`
	Timestamp            time.Time       `json:"timestamp"`
	Status               TxStatus        `json:"status"`
	RiskScore            float64         `json:"risk_score"`
	RoutingPath          []string        `json:"routing_path"`
	LedgerEntryIDs       []string        `json:"ledger_entry_ids"`
}

// now returns the current time at the precision PostgreSQL stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
