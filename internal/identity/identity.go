// Package identity implements the studio identity layer.
//
// It provides:
//   - Registry: maps identity ids to Ed25519 key pairs, roles and
//     verification levels, and answers authorization questions
//   - TokenIssuer: issues and verifies EdDSA JWT session tokens
//   - RequireToken: Gin middleware enforcing Bearer session tokens
//   - RequireRole: Gin middleware restricting a route to one role
//
// Private keys never leave the registry in plaintext except through
// PrivateKey, which callers use to sign audit entries and agent messages.
package identity
