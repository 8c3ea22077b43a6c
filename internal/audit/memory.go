package audit

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryChain is an in-memory, thread-safe Chain implementation.
// It does not survive restarts.
type MemoryChain struct {
	mu      sync.RWMutex
	entries []*Entry
	tail    string
}

// NewMemoryChain creates an empty MemoryChain whose tail is GenesisHash.
func NewMemoryChain() *MemoryChain {
	return &MemoryChain{tail: GenesisHash}
}

// Append implements Chain.
func (c *MemoryChain) Append(_ context.Context, entityID, eventType string, details map[string]any, key ed25519.PrivateKey) (*Entry, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, ErrNoSigningKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Entry{
		Index:     len(c.entries),
		ID:        uuid.New().String(),
		Timestamp: now(),
		EntityID:  entityID,
		EventType: eventType,
		Details:   details,
		PrevHash:  c.tail,
	}
	entry = cloneEntry(entry)

	hash, err := hashEntry(entry)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash
	if entry.Signature, err = sign(hash, key); err != nil {
		return nil, err
	}

	c.entries = append(c.entries, entry)
	c.tail = hash
	return cloneEntry(entry), nil
}

// List implements Chain.
func (c *MemoryChain) List(_ context.Context) ([]*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

// Get implements Chain.
func (c *MemoryChain) Get(_ context.Context, index int) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.entries) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	return cloneEntry(c.entries[index]), nil
}

// Len implements Chain.
func (c *MemoryChain) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

// Root implements Chain.
func (c *MemoryChain) Root(_ context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tail, nil
}

// Verify implements Chain.
func (c *MemoryChain) Verify(_ context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return verifyEntries(c.entries)
}

// VerifySignatures implements Chain.
func (c *MemoryChain) VerifySignatures(_ context.Context, keys KeyLookup) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return verifySignatures(c.entries, keys)
}
