package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sonicalchemy/studio/internal/ledger"
	"github.com/sonicalchemy/studio/internal/risk"
	"go.uber.org/zap"
)

var ctx = context.Background()

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fixedScorer always returns the same score.
type fixedScorer float64

func (f fixedScorer) Score(context.Context, risk.Facts) (float64, error) { return float64(f), nil }

type failingScorer struct{}

func (failingScorer) Score(context.Context, risk.Facts) (float64, error) {
	return 0, errors.New("scorer offline")
}

func newService(t *testing.T, scorer risk.Scorer) (*ledger.Service, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	svc := ledger.NewService(store, scorer, zap.NewNop())
	if err := svc.SeedDefaults(ctx); err != nil {
		t.Fatal(err)
	}
	return svc, store
}

func fund(t *testing.T, svc *ledger.Service, account, amount string) {
	t.Helper()
	if _, err := svc.Fund(ctx, account, ledger.CreditTokenID, d(amount)); err != nil {
		t.Fatalf("Fund(%s, %s): %v", account, amount, err)
	}
}

func balance(t *testing.T, svc *ledger.Service, account string) decimal.Decimal {
	t.Helper()
	b, err := svc.Balance(ctx, account, ledger.CreditTokenID)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestSeedDefaults_creditToken(t *testing.T) {
	svc, _ := newService(t, nil)

	tok, err := svc.Token(ctx, ledger.CreditTokenID)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Symbol != "SAC" || tok.Name != "Sonic Credit" || tok.Decimals != 2 {
		t.Errorf("unexpected token metadata: %+v", tok)
	}
	if !tok.TotalSupply.Equal(d("1000000")) {
		t.Errorf("TotalSupply: got %s, want 1000000", tok.TotalSupply)
	}
	if tok.OwnerID != "system" {
		t.Errorf("OwnerID: got %q, want system", tok.OwnerID)
	}

	// Seeding again is a no-op.
	if err := svc.SeedDefaults(ctx); err != nil {
		t.Errorf("second SeedDefaults() should succeed: %v", err)
	}
}

func TestIssueToken_rejectsDuplicateID(t *testing.T) {
	svc, _ := newService(t, nil)

	_, err := svc.IssueToken(ctx, ledger.IssueRequest{
		ID: ledger.CreditTokenID, Name: "Other", Symbol: "OTH",
		Decimals: 2, TotalSupply: d("10"), OwnerID: "system",
	})
	if !errors.Is(err, ledger.ErrTokenExists) {
		t.Errorf("expected ErrTokenExists, got %v", err)
	}
}

func TestIssueToken_generatesID(t *testing.T) {
	svc, _ := newService(t, nil)

	id, err := svc.IssueToken(ctx, ledger.IssueRequest{
		Name: "Stem Share", Symbol: "STEM", Decimals: 0, TotalSupply: d("500"), OwnerID: "user-777",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a generated token id")
	}
	tok, err := svc.Token(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if tok.IssuedAt.IsZero() {
		t.Error("IssuedAt should be set")
	}
}

func TestIssueToken_validation(t *testing.T) {
	svc, _ := newService(t, nil)

	valid := ledger.IssueRequest{Name: "N", Symbol: "S", Decimals: 2, TotalSupply: d("1"), OwnerID: "o"}
	tests := []struct {
		name   string
		mutate func(*ledger.IssueRequest)
	}{
		{"empty name", func(r *ledger.IssueRequest) { r.Name = " " }},
		{"empty symbol", func(r *ledger.IssueRequest) { r.Symbol = "" }},
		{"negative decimals", func(r *ledger.IssueRequest) { r.Decimals = -1 }},
		{"too many decimals", func(r *ledger.IssueRequest) { r.Decimals = 19 }},
		{"zero supply", func(r *ledger.IssueRequest) { r.TotalSupply = decimal.Zero }},
		{"no owner", func(r *ledger.IssueRequest) { r.OwnerID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			if _, err := svc.IssueToken(ctx, req); !errors.Is(err, ledger.ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestBalance_zeroForUnknownAccount(t *testing.T) {
	svc, _ := newService(t, nil)

	if b := balance(t, svc, "nobody"); !b.IsZero() {
		t.Errorf("expected zero balance, got %s", b)
	}
	b, err := svc.Balance(ctx, "nobody", "no-such-token")
	if err != nil || !b.IsZero() {
		t.Errorf("Balance() for unknown token: got %s, %v", b, err)
	}
}

func TestTransfer_movesFunds(t *testing.T) {
	svc, _ := newService(t, fixedScorer(42))
	fund(t, svc, "user-777", "50000")

	tx, err := svc.Transfer(ctx, ledger.TransferRequest{
		InitiatorID:   "user-777",
		SourceID:      "user-777",
		DestinationID: "agent-remediation-001",
		TokenID:       ledger.CreditTokenID,
		Amount:        d("100"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := balance(t, svc, "user-777"); !got.Equal(d("49900")) {
		t.Errorf("source balance: got %s, want 49900", got)
	}
	if got := balance(t, svc, "agent-remediation-001"); !got.Equal(d("100")) {
		t.Errorf("destination balance: got %s, want 100", got)
	}
	if tx.Status != ledger.StatusCompleted {
		t.Errorf("Status: got %q, want completed", tx.Status)
	}
	if tx.Type != ledger.TxTransfer {
		t.Errorf("Type: got %q, want transfer", tx.Type)
	}
	if tx.RiskScore != 42 {
		t.Errorf("RiskScore: got %v, want 42", tx.RiskScore)
	}
	if len(tx.RoutingPath) != 1 || tx.RoutingPath[0] != ledger.DefaultRail {
		t.Errorf("RoutingPath: got %v, want [%s]", tx.RoutingPath, ledger.DefaultRail)
	}
	if len(tx.LedgerEntryIDs) != 2 {
		t.Fatalf("expected 2 ledger entry ids, got %d", len(tx.LedgerEntryIDs))
	}

	entries, err := svc.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// One credit from funding, then the debit and credit of the transfer.
	if len(entries) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(entries))
	}
	debit, credit := entries[1], entries[2]
	if debit.Type != ledger.EntryDebit || !debit.Amount.Equal(d("-100")) || debit.AccountID != "user-777" {
		t.Errorf("unexpected debit entry: %+v", debit)
	}
	if !debit.BalanceBefore.Equal(d("50000")) || !debit.BalanceAfter.Equal(d("49900")) {
		t.Errorf("debit balances: %s -> %s", debit.BalanceBefore, debit.BalanceAfter)
	}
	if credit.Type != ledger.EntryCredit || !credit.Amount.Equal(d("100")) || credit.AccountID != "agent-remediation-001" {
		t.Errorf("unexpected credit entry: %+v", credit)
	}
	if debit.TransactionID != tx.ID || credit.TransactionID != tx.ID {
		t.Error("entries should reference the transaction")
	}
	if err := svc.VerifyEntries(ctx); err != nil {
		t.Errorf("VerifyEntries(): %v", err)
	}
}

func TestTransfer_insufficientFundsLeavesStateUntouched(t *testing.T) {
	svc, _ := newService(t, nil)

	before, _ := svc.Entries(ctx)
	_, err := svc.Transfer(ctx, ledger.TransferRequest{
		InitiatorID: "broke", SourceID: "broke", DestinationID: "user-777",
		TokenID: ledger.CreditTokenID, Amount: d("1"),
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if b := balance(t, svc, "user-777"); !b.IsZero() {
		t.Errorf("destination should not be credited, got %s", b)
	}
	after, _ := svc.Entries(ctx)
	if len(after) != len(before) {
		t.Errorf("no entries should be written, got %d new", len(after)-len(before))
	}
	txs, _ := svc.Transactions(ctx, "")
	if len(txs) != 0 {
		t.Errorf("no transaction should be recorded, got %d", len(txs))
	}
}

func TestTransfer_rejectsBadRequests(t *testing.T) {
	svc, _ := newService(t, nil)
	fund(t, svc, "user-777", "500")

	base := ledger.TransferRequest{
		InitiatorID: "user-777", SourceID: "user-777", DestinationID: "agent-remediation-001",
		TokenID: ledger.CreditTokenID, Amount: d("10"),
	}
	tests := []struct {
		name   string
		mutate func(*ledger.TransferRequest)
		want   error
	}{
		{"zero amount", func(r *ledger.TransferRequest) { r.Amount = decimal.Zero }, ledger.ErrInvalidAmount},
		{"negative amount", func(r *ledger.TransferRequest) { r.Amount = d("-5") }, ledger.ErrInvalidAmount},
		{"too precise", func(r *ledger.TransferRequest) { r.Amount = d("0.001") }, ledger.ErrInvalidAmount},
		{"same account", func(r *ledger.TransferRequest) { r.DestinationID = r.SourceID }, ledger.ErrSameAccount},
		{"empty destination", func(r *ledger.TransferRequest) { r.DestinationID = "" }, ledger.ErrInvalidAccount},
		{"unknown token", func(r *ledger.TransferRequest) { r.TokenID = "NOPE" }, ledger.ErrUnknownToken},
		{"unknown rail", func(r *ledger.TransferRequest) { r.Rail = "slow_rail" }, ledger.ErrUnknownRail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			if _, err := svc.Transfer(ctx, req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if b := balance(t, svc, "user-777"); !b.Equal(d("500")) {
		t.Errorf("rejected transfers must not move funds, balance %s", b)
	}
}

func TestTransfer_scorerErrorAborts(t *testing.T) {
	svc, _ := newService(t, failingScorer{})
	fund(t, svc, "user-777", "50")

	_, err := svc.Transfer(ctx, ledger.TransferRequest{
		InitiatorID: "user-777", SourceID: "user-777", DestinationID: "x",
		TokenID: ledger.CreditTokenID, Amount: d("5"),
	})
	if err == nil {
		t.Fatal("expected scorer error")
	}
	if b := balance(t, svc, "user-777"); !b.Equal(d("50")) {
		t.Errorf("balance should be unchanged, got %s", b)
	}
}

func TestTransfer_recordsSecureRail(t *testing.T) {
	svc, _ := newService(t, nil)
	fund(t, svc, "user-777", "50")

	tx, err := svc.Transfer(ctx, ledger.TransferRequest{
		InitiatorID: "user-777", SourceID: "user-777", DestinationID: "x",
		TokenID: ledger.CreditTokenID, Amount: d("5"), Rail: "secure_rail",
	})
	if err != nil {
		t.Fatal(err)
	}
	if tx.RoutingPath[0] != "secure_rail" {
		t.Errorf("RoutingPath: got %v", tx.RoutingPath)
	}
}

func TestTransfer_concurrentConservesSupply(t *testing.T) {
	svc, _ := newService(t, risk.NewRandomScorer(1))
	fund(t, svc, "a", "1000")
	fund(t, svc, "b", "1000")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src, dst := "a", "b"
			if i%2 == 1 {
				src, dst = "b", "a"
			}
			svc.Transfer(ctx, ledger.TransferRequest{
				InitiatorID: src, SourceID: src, DestinationID: dst,
				TokenID: ledger.CreditTokenID, Amount: d("7.25"),
			})
		}(i)
	}
	wg.Wait()

	total := balance(t, svc, "a").Add(balance(t, svc, "b"))
	if !total.Equal(d("2000")) {
		t.Errorf("total across accounts: got %s, want 2000", total)
	}
	circ, err := svc.Circulating(ctx, ledger.CreditTokenID)
	if err != nil {
		t.Fatal(err)
	}
	if !circ.Equal(d("2000")) {
		t.Errorf("Circulating(): got %s, want 2000", circ)
	}
	if err := svc.VerifyEntries(ctx); err != nil {
		t.Errorf("VerifyEntries() after concurrent transfers: %v", err)
	}
	if a := balance(t, svc, "a"); a.IsNegative() {
		t.Errorf("balance went negative: %s", a)
	}
}

func TestFund_capsAtTotalSupply(t *testing.T) {
	svc, _ := newService(t, nil)
	fund(t, svc, "user-777", "999999")

	if _, err := svc.Fund(ctx, "user-888", ledger.CreditTokenID, d("2")); !errors.Is(err, ledger.ErrSupplyExceeded) {
		t.Errorf("expected ErrSupplyExceeded, got %v", err)
	}
	fund(t, svc, "user-888", "1")
	if _, err := svc.Fund(ctx, "user-888", ledger.CreditTokenID, d("0.01")); !errors.Is(err, ledger.ErrSupplyExceeded) {
		t.Errorf("expected ErrSupplyExceeded at full supply, got %v", err)
	}
}

func TestFund_recordsMint(t *testing.T) {
	svc, _ := newService(t, nil)

	tx, err := svc.Fund(ctx, "user-777", ledger.CreditTokenID, d("50000"))
	if err != nil {
		t.Fatal(err)
	}
	if tx.Type != ledger.TxMint || tx.InitiatorID != "system" || tx.DestinationAccountID != "user-777" {
		t.Errorf("unexpected mint transaction: %+v", tx)
	}
	if len(tx.LedgerEntryIDs) != 1 {
		t.Errorf("expected a single credit entry, got %d", len(tx.LedgerEntryIDs))
	}
	if _, err := svc.Fund(ctx, "user-777", "NOPE", d("1")); !errors.Is(err, ledger.ErrUnknownToken) {
		t.Errorf("expected ErrUnknownToken, got %v", err)
	}
	if _, err := svc.Fund(ctx, "", ledger.CreditTokenID, d("1")); !errors.Is(err, ledger.ErrInvalidAccount) {
		t.Errorf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestTransactions_filteredNewestFirst(t *testing.T) {
	svc, _ := newService(t, nil)
	fund(t, svc, "user-777", "100")
	fund(t, svc, "other", "100")

	if _, err := svc.Transfer(ctx, ledger.TransferRequest{
		InitiatorID: "user-777", SourceID: "user-777", DestinationID: "agent-remediation-001",
		TokenID: ledger.CreditTokenID, Amount: d("1"),
	}); err != nil {
		t.Fatal(err)
	}

	txs, err := svc.Transactions(ctx, "user-777")
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions for user-777, got %d", len(txs))
	}
	if txs[0].Type != ledger.TxTransfer || txs[1].Type != ledger.TxMint {
		t.Errorf("expected newest first, got %s then %s", txs[0].Type, txs[1].Type)
	}
	all, _ := svc.Transactions(ctx, "")
	if len(all) != 3 {
		t.Errorf("expected 3 transactions overall, got %d", len(all))
	}
}

func TestVerifyEntries_detectsTampering(t *testing.T) {
	svc, store := newService(t, nil)
	fund(t, svc, "user-777", "100")
	if _, err := svc.Transfer(ctx, ledger.TransferRequest{
		InitiatorID: "user-777", SourceID: "user-777", DestinationID: "x",
		TokenID: ledger.CreditTokenID, Amount: d("10"),
	}); err != nil {
		t.Fatal(err)
	}

	store.TamperEntry(1, func(e *ledger.Entry) { e.Amount = d("-1") })
	if err := svc.VerifyEntries(ctx); err == nil {
		t.Fatal("VerifyEntries() should detect an edited amount")
	}
}

func TestActiveRails(t *testing.T) {
	svc, _ := newService(t, nil)

	rails := svc.ActiveRails()
	if len(rails) != 2 {
		t.Fatalf("expected 2 active rails, got %d", len(rails))
	}
	if rails[0].ID != "fast_rail" || rails[0].LatencyMs != 20 {
		t.Errorf("unexpected first rail: %+v", rails[0])
	}
	if rails[1].ID != "secure_rail" || rails[1].SecurityLevel != ledger.SecurityCryptographic {
		t.Errorf("unexpected second rail: %+v", rails[1])
	}

	// Callers cannot mutate the catalogue.
	rails[1].Policies[0] = "NONE"
	if r, _ := svc.Rail("secure_rail"); r.Policies[0] != "L3_REQ" {
		t.Error("ActiveRails() leaked internal policy slice")
	}
}
