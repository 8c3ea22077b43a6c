package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// ErrUnknownIdentity is returned when an identity id is not registered.
var ErrUnknownIdentity = errors.New("unknown identity")

// ErrInvalidIdentity is returned by Register when its arguments are malformed.
var ErrInvalidIdentity = errors.New("invalid identity")

// ErrIdentityExists is returned by Create when the id is already registered.
var ErrIdentityExists = errors.New("identity already exists")

// Type classifies the holder of an identity.
type Type string

const (
	TypeUser    Type = "user"
	TypeAgent   Type = "agent"
	TypeService Type = "service"
)

// Valid reports whether t is one of the known identity types.
func (t Type) Valid() bool {
	switch t {
	case TypeUser, TypeAgent, TypeService:
		return true
	}
	return false
}

// Level is the verification tier of an identity. L1 < L2 < L3.
type Level string

const (
	L1 Level = "L1"
	L2 Level = "L2"
	L3 Level = "L3"
)

// Rank returns the ordinal of the level, or 0 for an unknown level.
func (l Level) Rank() int {
	switch l {
	case L1:
		return 1
	case L2:
		return 2
	case L3:
		return 3
	}
	return 0
}

// Status is the lifecycle state of an identity.
type Status string

const (
	StatusActive      Status = "active"
	StatusSuspended   Status = "suspended"
	StatusDeactivated Status = "deactivated"
)

// Identity is a registered user, agent or service. Everything but Status is
// fixed at registration time.
type Identity struct {
	ID                  string    `json:"id"`
	Type                Type      `json:"type"`
	PublicKey           string    `json:"public_key"` // base64 Ed25519 public key
	PrivateKeyEncrypted string    `json:"-"`
	Roles               []string  `json:"roles"`
	Level               Level     `json:"verification_level"`
	Status              Status    `json:"status"`
	RegisteredAt        time.Time `json:"registered_at"`
}

// HasRole reports whether the identity holds role.
func (i *Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// Registry maps identity ids to their key pairs and role metadata.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	identities map[string]*Identity
	keys       *keySealer
}

// NewRegistry creates an empty Registry whose private keys are sealed with a
// key derived from secret.
func NewRegistry(secret string) (*Registry, error) {
	sealer, err := newKeySealer(secret)
	if err != nil {
		return nil, err
	}
	return &Registry{
		identities: make(map[string]*Identity),
		keys:       sealer,
	}, nil
}

// Register creates or overwrites the identity with the given id and gives it
// a fresh Ed25519 key pair.
func (r *Registry) Register(id string, typ Type, roles []string, level Level) (*Identity, error) {
	return r.register(id, typ, roles, level, true)
}

// Create is Register for ids that are not yet registered. It fails with
// ErrIdentityExists instead of replacing an identity and its keys.
func (r *Registry) Create(id string, typ Type, roles []string, level Level) (*Identity, error) {
	return r.register(id, typ, roles, level, false)
}

// Remove deletes the identity with the given id. Removing an unknown id is a
// no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.identities, id)
	r.mu.Unlock()
}

func (r *Registry) register(id string, typ Type, roles []string, level Level, replace bool) (*Identity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidIdentity)
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidIdentity, typ)
	}
	if level.Rank() == 0 {
		return nil, fmt.Errorf("%w: verification level %q", ErrInvalidIdentity, level)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	sealed, err := r.keys.seal(priv)
	if err != nil {
		return nil, fmt.Errorf("seal private key: %w", err)
	}

	ident := &Identity{
		ID:                  id,
		Type:                typ,
		PublicKey:           base64.StdEncoding.EncodeToString(pub),
		PrivateKeyEncrypted: sealed,
		Roles:               slices.Clone(roles),
		Level:               level,
		Status:              StatusActive,
		RegisteredAt:        time.Now().UTC(),
	}

	r.mu.Lock()
	if _, exists := r.identities[id]; exists && !replace {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrIdentityExists, id)
	}
	r.identities[id] = ident
	r.mu.Unlock()

	cp := *ident
	cp.Roles = slices.Clone(ident.Roles)
	return &cp, nil
}

// Get returns a copy of the identity with the given id.
func (r *Registry) Get(id string) (*Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.identities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, id)
	}
	cp := *ident
	cp.Roles = slices.Clone(ident.Roles)
	return &cp, nil
}

// List returns every registered identity ordered by id.
func (r *Registry) List() []*Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Identity, 0, len(r.identities))
	for _, ident := range r.identities {
		cp := *ident
		cp.Roles = slices.Clone(ident.Roles)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStatus changes the lifecycle status of an identity.
func (r *Registry) SetStatus(id string, status Status) error {
	switch status {
	case StatusActive, StatusSuspended, StatusDeactivated:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidIdentity, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.identities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownIdentity, id)
	}
	ident.Status = status
	return nil
}

// Authorize reports whether id is an active identity holding every role in
// requiredRoles at a verification level of at least minLevel. Unknown ids
// are not an error; they are simply unauthorized.
func (r *Registry) Authorize(id string, requiredRoles []string, minLevel Level) bool {
	if minLevel == "" {
		minLevel = L1
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.identities[id]
	if !ok || ident.Status != StatusActive {
		return false
	}
	for _, role := range requiredRoles {
		if !ident.HasRole(role) {
			return false
		}
	}
	return ident.Level.Rank() >= minLevel.Rank()
}

// PrivateKey unseals and returns the signing key of id. An unknown id is an
// error; callers must never fall back to signing with empty key material.
func (r *Registry) PrivateKey(id string) (ed25519.PrivateKey, error) {
	r.mu.RLock()
	ident, ok := r.identities[id]
	var sealed string
	if ok {
		sealed = ident.PrivateKeyEncrypted
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, id)
	}
	priv, err := r.keys.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("unseal private key for %s: %w", id, err)
	}
	return priv, nil
}

// PublicKey returns the decoded Ed25519 public key of id.
func (r *Registry) PublicKey(id string) (ed25519.PublicKey, error) {
	ident, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(ident.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key for %s: %w", id, err)
	}
	return ed25519.PublicKey(raw), nil
}

// SeedDefaults registers the built-in system and orchestrator identities.
func (r *Registry) SeedDefaults() error {
	seeds := []struct {
		id    string
		typ   Type
		roles []string
	}{
		{"system", TypeService, []string{"admin", "system"}},
		{"agent-orchestrator-001", TypeAgent, []string{"agent.orchestration", "admin"}},
	}
	for _, s := range seeds {
		if _, err := r.Register(s.id, s.typ, s.roles, L3); err != nil {
			return fmt.Errorf("seed identity %s: %w", s.id, err)
		}
	}
	return nil
}
