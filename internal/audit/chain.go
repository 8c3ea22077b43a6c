package audit

import (
	"context"
	"crypto/ed25519"
)

// Chain is the interface for the append-only, hash-linked audit log.
// Both MemoryChain and PostgresChain implement this interface.
type Chain interface {
	// Append adds a new entry linked to the current tail and signed with key.
	// The append and the tail advance happen as one serialized step.
	Append(ctx context.Context, entityID, eventType string, details map[string]any, key ed25519.PrivateKey) (*Entry, error)

	// List returns a snapshot of every entry in append order, oldest first.
	List(ctx context.Context) ([]*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the total number of entries.
	Len(ctx context.Context) (int, error)

	// Root returns the hash of the most recent entry, or GenesisHash when
	// the chain is empty.
	Root(ctx context.Context) (string, error)

	// Verify recomputes every hash and link. Returns nil if the chain is
	// intact and an error describing the first mismatch otherwise.
	Verify(ctx context.Context) error

	// VerifySignatures checks every entry's signature against the public
	// key of its entity.
	VerifySignatures(ctx context.Context, keys KeyLookup) error
}

// Valid reports whether c verifies cleanly.
func Valid(ctx context.Context, c Chain) bool {
	return c.Verify(ctx) == nil
}

// Reversed returns entries newest first, for display.
func Reversed(entries []*Entry) []*Entry {
	out := make([]*Entry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
