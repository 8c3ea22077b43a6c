package audit

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GenesisHash is the PrevHash of the first entry in every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ErrNoSigningKey is returned by Append when the caller supplies no usable
// private key. Entries are never written unsigned.
var ErrNoSigningKey = errors.New("audit: signing key is required")

// Entry is a single record in the audit chain.
type Entry struct {
	Index     int            `json:"index"`
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EntityID  string         `json:"entity_id"`
	EventType string         `json:"event_type"` // session.init, composition.synthesized, transaction.transfer, ...
	Details   map[string]any `json:"details"`
	Hash      string         `json:"hash"`
	PrevHash  string         `json:"prev_hash"`
	Signature string         `json:"signature"` // base64 Ed25519 signature over Hash
}

// hashedContent is the exact set of fields covered by an entry's hash.
// Field order is fixed by the struct; map keys in Details are sorted by
// encoding/json.
type hashedContent struct {
	Timestamp string         `json:"timestamp"`
	EntityID  string         `json:"entity_id"`
	EventType string         `json:"event_type"`
	Details   map[string]any `json:"details"`
	PrevHash  string         `json:"prev_hash"`
}

// hashEntry computes the hex SHA-256 of an entry's content.
func hashEntry(e *Entry) (string, error) {
	b, err := json.Marshal(hashedContent{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		EntityID:  e.EntityID,
		EventType: e.EventType,
		Details:   e.Details,
		PrevHash:  e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("marshal entry content: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// sign returns the base64 Ed25519 signature of hash.
func sign(hash string, key ed25519.PrivateKey) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", ErrNoSigningKey
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, []byte(hash))), nil
}

// VerifySignature reports whether e.Signature is a valid signature of e.Hash
// under pub.
func VerifySignature(e *Entry, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(e.Hash), sig)
}

// now returns the current time at the precision PostgreSQL stores, so a
// hash computed before insert still matches after a round trip.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// verifyEntries walks entries in order and checks every link and hash.
func verifyEntries(entries []*Entry) error {
	prevHash := GenesisHash
	for i, e := range entries {
		if e.PrevHash != prevHash {
			return fmt.Errorf("hash chain broken at index %d", i)
		}
		h, err := hashEntry(e)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if h != e.Hash {
			return fmt.Errorf("entry %d has invalid hash", i)
		}
		prevHash = e.Hash
	}
	return nil
}

// KeyLookup resolves an entity id to its public key.
// *identity.Registry satisfies this interface.
type KeyLookup interface {
	PublicKey(id string) (ed25519.PublicKey, error)
}

// verifySignatures checks each entry's signature against its entity's key.
func verifySignatures(entries []*Entry, keys KeyLookup) error {
	for i, e := range entries {
		pub, err := keys.PublicKey(e.EntityID)
		if err != nil {
			return fmt.Errorf("entry %d: public key for %s: %w", i, e.EntityID, err)
		}
		if !VerifySignature(e, pub) {
			return fmt.Errorf("entry %d has invalid signature", i)
		}
	}
	return nil
}

// cloneEntry returns a copy of e whose Details map is not shared.
func cloneEntry(e *Entry) *Entry {
	cp := *e
	if e.Details != nil {
		cp.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}
