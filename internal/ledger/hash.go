package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// hashEntry computes a deterministic SHA-256 over an entry's fields.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		e.Index, e.ID, e.TransactionID, e.AccountID, e.TokenID,
		e.Amount.String(), e.Type, e.BalanceBefore.String(), e.BalanceAfter.String(),
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// verifyEntries walks entries in order and checks every link and hash.
func verifyEntries(entries []*Entry) error {
	prevHash := GenesisHash
	for i, e := range entries {
		if e.PrevHash != prevHash {
			return fmt.Errorf("ledger chain broken at index %d", i)
		}
		if e.Hash != hashEntry(e) {
			return fmt.Errorf("ledger entry %d has invalid hash", i)
		}
		prevHash = e.Hash
	}
	return nil
}
