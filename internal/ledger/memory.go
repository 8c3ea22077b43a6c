package ledger

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

type balanceKey struct {
	account string
	token   string
}

// MemoryStore is an in-memory, thread-safe Store. Writers are serialised by
// a single mutex held for the whole of Atomically.
type MemoryStore struct {
	mu       sync.RWMutex
	tokens   map[string]*Token
	balances map[balanceKey]decimal.Decimal
	entries  []*Entry
	txs      []*Transaction
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:   make(map[string]*Token),
		balances: make(map[balanceKey]decimal.Decimal),
	}
}

// CreateToken implements Store.
func (s *MemoryStore) CreateToken(_ context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, t.ID)
	}
	cp := *t
	s.tokens[t.ID] = &cp
	return nil
}

// Token implements Store.
func (s *MemoryStore) Token(_ context.Context, id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenLocked(id)
}

func (s *MemoryStore) tokenLocked(id string) (*Token, error) {
	t, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, id)
	}
	cp := *t
	return &cp, nil
}

// Balance implements Store.
func (s *MemoryStore) Balance(_ context.Context, accountID, tokenID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[balanceKey{accountID, tokenID}], nil
}

// Balances implements Store.
func (s *MemoryStore) Balances(_ context.Context, accountID string) ([]Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Balance
	for k, v := range s.balances {
		if k.account == accountID {
			out = append(out, Balance{AccountID: k.account, TokenID: k.token, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

// Circulating implements Store.
func (s *MemoryStore) Circulating(_ context.Context, tokenID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.circulatingLocked(tokenID, nil), nil
}

func (s *MemoryStore) circulatingLocked(tokenID string, staged map[balanceKey]decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for k, v := range s.balances {
		if k.token != tokenID {
			continue
		}
		if sv, ok := staged[k]; ok {
			v = sv
		}
		sum = sum.Add(v)
	}
	for k, v := range staged {
		if _, seen := s.balances[k]; !seen && k.token == tokenID {
			sum = sum.Add(v)
		}
	}
	return sum
}

// Entries implements Store.
func (s *MemoryStore) Entries(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, len(s.entries))
	for i, e := range s.entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// Transactions implements Store.
func (s *MemoryStore) Transactions(_ context.Context, accountID string) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transaction
	for i := len(s.txs) - 1; i >= 0; i-- {
		t := s.txs[i]
		if accountID != "" && t.SourceAccountID != accountID && t.DestinationAccountID != accountID {
			continue
		}
		out = append(out, cloneTransaction(t))
	}
	return out, nil
}

// Atomically implements Store. Writes are staged and only applied when fn
// returns nil.
func (s *MemoryStore) Atomically(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, balances: make(map[balanceKey]decimal.Decimal)}
	if err := fn(tx); err != nil {
		return err
	}

	for k, v := range tx.balances {
		s.balances[k] = v
	}
	s.entries = append(s.entries, tx.entries...)
	s.txs = append(s.txs, tx.txs...)
	return nil
}

// memTx stages writes on top of the store. The store mutex is held by
// Atomically for its whole lifetime.
type memTx struct {
	s        *MemoryStore
	balances map[balanceKey]decimal.Decimal
	entries  []*Entry
	txs      []*Transaction
}

func (t *memTx) Token(_ context.Context, id string) (*Token, error) {
	return t.s.tokenLocked(id)
}

func (t *memTx) Balance(_ context.Context, accountID, tokenID string) (decimal.Decimal, error) {
	k := balanceKey{accountID, tokenID}
	if v, ok := t.balances[k]; ok {
		return v, nil
	}
	return t.s.balances[k], nil
}

func (t *memTx) Circulating(_ context.Context, tokenID string) (decimal.Decimal, error) {
	return t.s.circulatingLocked(tokenID, t.balances), nil
}

func (t *memTx) SetBalance(_ context.Context, accountID, tokenID string, amount decimal.Decimal) error {
	t.balances[balanceKey{accountID, tokenID}] = amount
	return nil
}

func (t *memTx) Tip(_ context.Context) (int, string, error) {
	n := len(t.s.entries) + len(t.entries)
	switch {
	case len(t.entries) > 0:
		return n, t.entries[len(t.entries)-1].Hash, nil
	case len(t.s.entries) > 0:
		return n, t.s.entries[len(t.s.entries)-1].Hash, nil
	default:
		return 0, GenesisHash, nil
	}
}

func (t *memTx) AppendEntry(_ context.Context, e *Entry) error {
	cp := *e
	t.entries = append(t.entries, &cp)
	return nil
}

func (t *memTx) SaveTransaction(_ context.Context, tr *Transaction) error {
	t.txs = append(t.txs, cloneTransaction(tr))
	return nil
}

func cloneTransaction(t *Transaction) *Transaction {
	cp := *t
	cp.RoutingPath = slices.Clone(t.RoutingPath)
	cp.LedgerEntryIDs = slices.Clone(t.LedgerEntryIDs)
	return &cp
}
