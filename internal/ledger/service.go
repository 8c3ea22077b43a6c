package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sonicalchemy/studio/internal/risk"
	"go.uber.org/zap"
)

// Default token seeded at startup.
const (
	CreditTokenID     = "SA-CREDIT-ID"
	creditTokenName   = "Sonic Credit"
	creditTokenSymbol = "SAC"
	creditDecimals    = 2
	creditSupply      = 1_000_000
	creditOwner       = "system"
)

const maxDecimals = 18

// IssueRequest describes a new token.
type IssueRequest struct {
	ID          string // optional; a uuid is generated when empty
	Name        string
	Symbol      string
	Decimals    int
	TotalSupply decimal.Decimal
	OwnerID     string
}

// TransferRequest describes a single-step transfer.
type TransferRequest struct {
	InitiatorID   string
	SourceID      string
	DestinationID string
	TokenID       string
	Amount        decimal.Decimal
	Rail          string // optional; DefaultRail when empty
}

// Service contains the business logic of the token rail.
type Service struct {
	store  Store
	scorer risk.Scorer
	rails  []Rail
	logger *zap.Logger
}

// NewService creates a Service over store. scorer assigns risk scores to
// transfers; a nil scorer scores everything 0.
func NewService(store Store, scorer risk.Scorer, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		scorer: scorer,
		rails:  slices.Clone(defaultRails),
		logger: logger,
	}
}

// SeedDefaults issues the studio credit token unless it already exists.
func (s *Service) SeedDefaults(ctx context.Context) error {
	_, err := s.IssueToken(ctx, IssueRequest{
		ID:          CreditTokenID,
		Name:        creditTokenName,
		Symbol:      creditTokenSymbol,
		Decimals:    creditDecimals,
		TotalSupply: decimal.NewFromInt(creditSupply),
		OwnerID:     creditOwner,
	})
	if err != nil && !errors.Is(err, ErrTokenExists) {
		return fmt.Errorf("seed credit token: %w", err)
	}
	return nil
}

// IssueToken creates token metadata exactly once and returns the token id.
func (s *Service) IssueToken(ctx context.Context, req IssueRequest) (string, error) {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return "", fmt.Errorf("%w: name is required", ErrInvalidToken)
	case strings.TrimSpace(req.Symbol) == "":
		return "", fmt.Errorf("%w: symbol is required", ErrInvalidToken)
	case req.Decimals < 0 || req.Decimals > maxDecimals:
		return "", fmt.Errorf("%w: decimals must be between 0 and %d", ErrInvalidToken, maxDecimals)
	case !req.TotalSupply.IsPositive():
		return "", fmt.Errorf("%w: total supply must be positive", ErrInvalidToken)
	case strings.TrimSpace(req.OwnerID) == "":
		return "", fmt.Errorf("%w: owner is required", ErrInvalidToken)
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	t := &Token{
		ID:          id,
		Name:        req.Name,
		Symbol:      req.Symbol,
		Decimals:    req.Decimals,
		TotalSupply: req.TotalSupply,
		OwnerID:     req.OwnerID,
		IssuedAt:    now(),
	}
	if err := s.store.CreateToken(ctx, t); err != nil {
		return "", err
	}

	s.logger.Info("token issued",
		zap.String("token_id", id),
		zap.String("symbol", t.Symbol),
		zap.String("total_supply", t.TotalSupply.String()),
	)
	return id, nil
}

// Token returns the metadata of an issued token.
func (s *Service) Token(ctx context.Context, id string) (*Token, error) {
	return s.store.Token(ctx, id)
}

// Balance returns the holding of account in token. An account that has
// never held the token has a zero balance.
func (s *Service) Balance(ctx context.Context, accountID, tokenID string) (decimal.Decimal, error) {
	return s.store.Balance(ctx, accountID, tokenID)
}

// Balances returns every holding of account.
func (s *Service) Balances(ctx context.Context, accountID string) ([]Balance, error) {
	return s.store.Balances(ctx, accountID)
}

// Circulating returns the total of every account's balance in token.
func (s *Service) Circulating(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	return s.store.Circulating(ctx, tokenID)
}

// Entries returns the ledger chain in append order.
func (s *Service) Entries(ctx context.Context) ([]*Entry, error) {
	return s.store.Entries(ctx)
}

// Transactions returns transactions touching account, newest first.
func (s *Service) Transactions(ctx context.Context, accountID string) ([]*Transaction, error) {
	return s.store.Transactions(ctx, accountID)
}

// VerifyEntries recomputes every ledger entry hash and link.
func (s *Service) VerifyEntries(ctx context.Context) error {
	entries, err := s.store.Entries(ctx)
	if err != nil {
		return err
	}
	return verifyEntries(entries)
}

// ActiveRails returns the settlement rails currently accepting transfers.
func (s *Service) ActiveRails() []Rail {
	var out []Rail
	for _, r := range s.rails {
		if r.Active {
			r.Policies = slices.Clone(r.Policies)
			out = append(out, r)
		}
	}
	return out
}

// Rail returns the active rail with the given id.
func (s *Service) Rail(id string) (Rail, bool) {
	for _, r := range s.ActiveRails() {
		if r.ID == id {
			return r, true
		}
	}
	return Rail{}, false
}

// Fund moves newly issued supply into account. It is the only way value
// enters circulation, and the total funded can never exceed the token's
// total supply.
func (s *Service) Fund(ctx context.Context, accountID, tokenID string, amount decimal.Decimal) (*Transaction, error) {
	if accountID == "" {
		return nil, ErrInvalidAccount
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result *Transaction
	err := s.store.Atomically(ctx, func(tx Tx) error {
		tok, err := tx.Token(ctx, tokenID)
		if err != nil {
			return err
		}
		if err := checkPrecision(tok, amount); err != nil {
			return err
		}
		inCirculation, err := tx.Circulating(ctx, tokenID)
		if err != nil {
			return err
		}
		if inCirculation.Add(amount).GreaterThan(tok.TotalSupply) {
			return fmt.Errorf("%w: %s in circulation, supply %s",
				ErrSupplyExceeded, inCirculation, tok.TotalSupply)
		}

		t := &Transaction{
			ID:                   uuid.New().String(),
			Type:                 TxMint,
			InitiatorID:          tok.OwnerID,
			DestinationAccountID: accountID,
			TokenID:              tokenID,
			Amount:               amount,
			Timestamp:            now(),
			Status:               StatusCompleted,
			RoutingPath:          []string{},
		}
		credit, err := post(ctx, tx, t, accountID, amount, EntryCredit)
		if err != nil {
			return err
		}
		t.LedgerEntryIDs = []string{credit.ID}
		if err := tx.SaveTransaction(ctx, t); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account funded",
		zap.String("account_id", accountID),
		zap.String("token_id", tokenID),
		zap.String("amount", amount.String()),
	)
	return result, nil
}

// Transfer debits source and credits destination as one atomic step. It
// fails without touching any balance when the amount is not positive or the
// source holds less than the amount.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.SourceID == "" || req.DestinationID == "" {
		return nil, ErrInvalidAccount
	}
	if req.SourceID == req.DestinationID {
		return nil, ErrSameAccount
	}
	rail := req.Rail
	if rail == "" {
		rail = DefaultRail
	}
	if _, ok := s.Rail(rail); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRail, rail)
	}

	var result *Transaction
	err := s.store.Atomically(ctx, func(tx Tx) error {
		tok, err := tx.Token(ctx, req.TokenID)
		if err != nil {
			return err
		}
		if err := checkPrecision(tok, req.Amount); err != nil {
			return err
		}

		available, err := tx.Balance(ctx, req.SourceID, req.TokenID)
		if err != nil {
			return err
		}
		if available.LessThan(req.Amount) {
			return fmt.Errorf("%w: %s holds %s, needs %s",
				ErrInsufficientFunds, req.SourceID, available, req.Amount)
		}

		score, err := s.score(ctx, req, available, rail)
		if err != nil {
			return err
		}

		t := &Transaction{
			ID:                   uuid.New().String(),
			Type:                 TxTransfer,
			InitiatorID:          req.InitiatorID,
			SourceAccountID:      req.SourceID,
			DestinationAccountID: req.DestinationID,
			TokenID:              req.TokenID,
			Amount:               req.Amount,
			Timestamp:            now(),
			Status:               StatusCompleted,
			RiskScore:            score,
			RoutingPath:          []string{rail},
		}
		debit, err := post(ctx, tx, t, req.SourceID, req.Amount.Neg(), EntryDebit)
		if err != nil {
			return err
		}
		credit, err := post(ctx, tx, t, req.DestinationID, req.Amount, EntryCredit)
		if err != nil {
			return err
		}
		t.LedgerEntryIDs = []string{debit.ID, credit.ID}
		if err := tx.SaveTransaction(ctx, t); err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("transfer completed",
		zap.String("transaction_id", result.ID),
		zap.String("source", result.SourceAccountID),
		zap.String("destination", result.DestinationAccountID),
		zap.String("amount", result.Amount.String()),
		zap.Float64("risk_score", result.RiskScore),
	)
	return result, nil
}

func (s *Service) score(ctx context.Context, req TransferRequest, available decimal.Decimal, rail string) (float64, error) {
	if s.scorer == nil {
		return 0, nil
	}
	score, err := s.scorer.Score(ctx, risk.Facts{
		InitiatorID:   req.InitiatorID,
		SourceID:      req.SourceID,
		DestinationID: req.DestinationID,
		TokenID:       req.TokenID,
		Amount:        req.Amount,
		SourceBalance: available,
		Rail:          rail,
	})
	if err != nil {
		return 0, fmt.Errorf("score transfer: %w", err)
	}
	return score, nil
}

// post applies delta to account's balance and appends the matching ledger
// entry linked to the current chain tip.
func post(ctx context.Context, tx Tx, t *Transaction, accountID string, delta decimal.Decimal, typ EntryType) (*Entry, error) {
	before, err := tx.Balance(ctx, accountID, t.TokenID)
	if err != nil {
		return nil, err
	}
	after := before.Add(delta)
	if err := tx.SetBalance(ctx, accountID, t.TokenID, after); err != nil {
		return nil, err
	}

	idx, prevHash, err := tx.Tip(ctx)
	if err != nil {
		return nil, err
	}
	e := &Entry{
		Index:         idx,
		ID:            uuid.New().String(),
		TransactionID: t.ID,
		AccountID:     accountID,
		TokenID:       t.TokenID,
		Amount:        delta,
		Type:          typ,
		BalanceBefore: before,
		BalanceAfter:  after,
		Timestamp:     t.Timestamp,
		PrevHash:      prevHash,
	}
	e.Hash = hashEntry(e)
	if err := tx.AppendEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// checkPrecision rejects amounts finer than the token's smallest unit.
func checkPrecision(t *Token, amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(int32(t.Decimals))) {
		return fmt.Errorf("%w: %s allows %d decimal places", ErrInvalidAmount, t.Symbol, t.Decimals)
	}
	return nil
}
