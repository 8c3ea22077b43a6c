// Package audit implements the studio's append-only, hash-chained audit log.
//
// Every entry stores the SHA-256 of its predecessor in PrevHash; the first
// entry links to GenesisHash (64 hex zeros). Each entry is also signed with
// the Ed25519 key of the entity that caused it. Verify recomputes every hash
// and link, so editing any stored entry after the fact is detectable.
//
// Two implementations of the Chain interface are provided:
//   - MemoryChain: in-process, for tests and single-process deployments.
//   - PostgresChain: durable, survives restarts with verifiable order.
package audit
