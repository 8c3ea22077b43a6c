package audit_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sonicalchemy/studio/internal/audit"
)

var ctx = context.Background()

type keyRing map[string]ed25519.PrivateKey

func (k keyRing) key(t *testing.T, id string) ed25519.PrivateKey {
	t.Helper()
	if priv, ok := k[id]; ok {
		return priv
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	k[id] = priv
	return priv
}

func (k keyRing) PublicKey(id string) (ed25519.PublicKey, error) {
	priv, ok := k[id]
	if !ok {
		return nil, fmt.Errorf("no key for %s", id)
	}
	return priv.Public().(ed25519.PublicKey), nil
}

func TestNewMemoryChain_empty(t *testing.T) {
	c := audit.NewMemoryChain()

	n, err := c.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected empty chain, got %d entries", n)
	}
	root, _ := c.Root(ctx)
	if root != audit.GenesisHash {
		t.Errorf("Root() on empty chain: got %q, want GenesisHash", root)
	}
	if err := c.Verify(ctx); err != nil {
		t.Errorf("Verify() on empty chain should pass: %v", err)
	}
}

func TestAppend_chainsThreeEntries(t *testing.T) {
	c := audit.NewMemoryChain()
	keys := keyRing{}

	e1, err := c.Append(ctx, "user-777", "session.init", map[string]any{"version": "1.0.0-PRO"}, keys.key(t, "user-777"))
	if err != nil {
		t.Fatal(err)
	}
	e2, err := c.Append(ctx, "user-777", "composition.synthesized", map[string]any{"id": "abc", "title": "Neon Rain"}, keys.key(t, "user-777"))
	if err != nil {
		t.Fatal(err)
	}
	e3, err := c.Append(ctx, "user-777", "transaction.transfer", map[string]any{"to": "agent-remediation-001", "amount": 100}, keys.key(t, "user-777"))
	if err != nil {
		t.Fatal(err)
	}

	if e1.PrevHash != audit.GenesisHash {
		t.Errorf("first entry PrevHash: got %q, want GenesisHash", e1.PrevHash)
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}
	if e3.PrevHash != e2.Hash {
		t.Errorf("chain broken: e3.PrevHash=%q, want e2.Hash=%q", e3.PrevHash, e2.Hash)
	}

	root, _ := c.Root(ctx)
	if root != e3.Hash {
		t.Errorf("Root(): got %q, want %q", root, e3.Hash)
	}
	if err := c.Verify(ctx); err != nil {
		t.Errorf("Verify() failed on valid chain: %v", err)
	}
	if err := c.VerifySignatures(ctx, keys); err != nil {
		t.Errorf("VerifySignatures() failed: %v", err)
	}
}

func TestAppend_requiresSigningKey(t *testing.T) {
	c := audit.NewMemoryChain()

	_, err := c.Append(ctx, "ghost", "session.init", nil, nil)
	if !errors.Is(err, audit.ErrNoSigningKey) {
		t.Fatalf("expected ErrNoSigningKey, got %v", err)
	}
	if n, _ := c.Len(ctx); n != 0 {
		t.Errorf("unsigned append must not write, got %d entries", n)
	}
}

func TestList_oldestFirstSnapshot(t *testing.T) {
	c := audit.NewMemoryChain()
	keys := keyRing{}
	for i := 0; i < 3; i++ {
		_, _ = c.Append(ctx, "system", fmt.Sprintf("event.%d", i), map[string]any{"n": i}, keys.key(t, "system"))
	}

	list, err := c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, e := range list {
		if e.EventType != fmt.Sprintf("event.%d", i) || e.Index != i {
			t.Errorf("entry %d out of order: %+v", i, e)
		}
	}

	// Mutating the snapshot must not affect the chain.
	list[0].Details["n"] = 99
	if err := c.Verify(ctx); err != nil {
		t.Errorf("mutating a List() snapshot broke the chain: %v", err)
	}

	rev := audit.Reversed(list)
	if rev[0].EventType != "event.2" || rev[2].EventType != "event.0" {
		t.Error("Reversed() did not return newest first")
	}
}

func TestAppend_callerMapIsCopied(t *testing.T) {
	c := audit.NewMemoryChain()
	keys := keyRing{}
	details := map[string]any{"amount": 100}
	_, _ = c.Append(ctx, "system", "transaction.transfer", details, keys.key(t, "system"))

	details["amount"] = 1_000_000
	if !audit.Valid(ctx, c) {
		t.Error("mutating the caller's details map after Append broke the chain")
	}
}

func TestVerify_detectsTamperedDetails(t *testing.T) {
	c := audit.NewMemoryChain()
	keys := keyRing{}
	for i := 0; i < 3; i++ {
		_, _ = c.Append(ctx, "system", "event", map[string]any{"n": i}, keys.key(t, "system"))
	}

	c.Tamper(1, func(e *audit.Entry) { e.Details["n"] = 42 })

	if audit.Valid(ctx, c) {
		t.Fatal("Verify() should fail after details were edited")
	}
}

func TestVerify_detectsBrokenLink(t *testing.T) {
	c := audit.NewMemoryChain()
	keys := keyRing{}
	for i := 0; i < 2; i++ {
		_, _ = c.Append(ctx, "system", "event", nil, keys.key(t, "system"))
	}

	c.Tamper(1, func(e *audit.Entry) { e.PrevHash = audit.GenesisHash })

	if err := c.Verify(ctx); err == nil {
		t.Fatal("Verify() should fail when a PrevHash link is rewritten")
	}
}

func TestVerifySignatures_detectsForgery(t *testing.T) {
	c := audit.NewMemoryChain()
	keys := keyRing{}
	_, _ = c.Append(ctx, "alice", "event", nil, keys.key(t, "alice"))

	// Re-key alice: the stored signature no longer matches her public key.
	delete(keys, "alice")
	keys.key(t, "alice")

	if err := c.VerifySignatures(ctx, keys); err == nil {
		t.Fatal("VerifySignatures() should fail for a signature under another key")
	}
}

func TestAppend_concurrentWritersKeepChainIntact(t *testing.T) {
	c := audit.NewMemoryChain()
	keys := keyRing{}
	priv := keys.key(t, "system")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.Append(ctx, "system", "event", map[string]any{"n": i}, priv); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if n, _ := c.Len(ctx); n != 50 {
		t.Errorf("expected 50 entries, got %d", n)
	}
	if err := c.Verify(ctx); err != nil {
		t.Errorf("Verify() after concurrent appends: %v", err)
	}
}

func TestGet_outOfRange(t *testing.T) {
	c := audit.NewMemoryChain()
	if _, err := c.Get(ctx, 0); err == nil {
		t.Error("expected error for index 0 on empty chain")
	}
	if _, err := c.Get(ctx, -1); err == nil {
		t.Error("expected error for negative index")
	}
}
