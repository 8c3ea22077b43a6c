package agents

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrUnknownSender is returned when the sender has no signing key.
var ErrUnknownSender = errors.New("sender has no signing key")

// KeySource resolves identity ids to their signing keys.
// *identity.Registry satisfies it.
type KeySource interface {
	PrivateKey(id string) (ed25519.PrivateKey, error)
}

// Message is a signed envelope exchanged between agents. When Encrypted is
// set, Payload is empty while the message waits in the bus and Sealed holds
// the encrypted payload.
type Message struct {
	ID         string         `json:"id"`
	SenderID   string         `json:"sender_id"`
	ReceiverID string         `json:"receiver_id"`
	Topic      string         `json:"topic"`
	Payload    map[string]any `json:"payload,omitempty"`
	Sealed     string         `json:"sealed,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Signature  string         `json:"signature"`
	Encrypted  bool           `json:"is_encrypted"`
}

// signedContent is the part of a Message covered by its signature.
type signedContent struct {
	ID         string         `json:"id"`
	SenderID   string         `json:"sender_id"`
	ReceiverID string         `json:"receiver_id"`
	Topic      string         `json:"topic"`
	Payload    map[string]any `json:"payload,omitempty"`
	Sealed     string         `json:"sealed,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// digest covers the sealed form of encrypted messages, so a delivered
// message with its payload opened still verifies.
func digest(m *Message) ([]byte, error) {
	payload := m.Payload
	if m.Encrypted {
		payload = nil
	}
	b, err := json.Marshal(signedContent{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Topic:      m.Topic,
		Payload:    payload,
		Sealed:     m.Sealed,
		Timestamp:  m.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}

// VerifyMessage reports whether m carries a valid signature by pub.
func VerifyMessage(m *Message, pub ed25519.PublicKey) bool {
	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	d, err := digest(m)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, d, sig)
}

// Bus delivers signed messages between agents. Each receiver has a queue
// that Receive drains; History keeps every message ever sent.
type Bus struct {
	keys   KeySource
	aead   cipher.AEAD
	logger *zap.Logger

	mu      sync.Mutex
	history []*Message
	queues  map[string][]*Message
}

// NewBus creates a Bus that signs with keys from ks. Encrypted payloads are
// sealed with a key generated for the lifetime of the bus.
func NewBus(ks KeySource, logger *zap.Logger) (*Bus, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate bus key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init bus aead: %w", err)
	}
	return &Bus{
		keys:   ks,
		aead:   aead,
		logger: logger,
		queues: make(map[string][]*Message),
	}, nil
}

// Send signs a message from sender to receiver and queues it.
func (b *Bus) Send(senderID, receiverID, topic string, payload map[string]any, encrypt bool) (*Message, error) {
	priv, err := b.keys.PrivateKey(senderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSender, err)
	}

	m := &Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Topic:      topic,
		Timestamp:  time.Now().UTC(),
		Encrypted:  encrypt,
	}
	if encrypt {
		if m.Sealed, err = b.seal(payload); err != nil {
			return nil, err
		}
	} else {
		m.Payload = payload
	}

	d, err := digest(m)
	if err != nil {
		return nil, err
	}
	m.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, d))

	b.mu.Lock()
	b.history = append(b.history, m)
	b.queues[receiverID] = append(b.queues[receiverID], m)
	b.mu.Unlock()

	b.logger.Debug("agent message sent",
		zap.String("message_id", m.ID),
		zap.String("sender", senderID),
		zap.String("receiver", receiverID),
		zap.String("topic", topic),
		zap.Bool("encrypted", encrypt),
	)
	return cloneMessage(m), nil
}

// Receive removes and returns every message queued for agentID, oldest
// first. Encrypted payloads are opened on delivery. A message that cannot be
// opened stays queued and is reported in the returned error; the others are
// still delivered.
func (b *Bus) Receive(agentID string) ([]*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	queued := b.queues[agentID]
	out := make([]*Message, 0, len(queued))
	var kept []*Message
	var errs []error
	for _, m := range queued {
		cp := cloneMessage(m)
		if cp.Encrypted {
			payload, err := b.open(cp.Sealed)
			if err != nil {
				kept = append(kept, m)
				errs = append(errs, fmt.Errorf("open message %s: %w", cp.ID, err))
				continue
			}
			cp.Payload = payload
		}
		out = append(out, cp)
	}

	if len(kept) == 0 {
		delete(b.queues, agentID)
	} else {
		b.queues[agentID] = kept
	}
	return out, errors.Join(errs...)
}

// Pending returns the number of messages queued for agentID.
func (b *Bus) Pending(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[agentID])
}

// History returns every message sent on the bus in send order. Encrypted
// payloads stay sealed.
func (b *Bus) History() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Message, len(b.history))
	for i, m := range b.history {
		out[i] = cloneMessage(m)
	}
	return out
}

func (b *Bus) seal(payload map[string]any) (string, error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plain)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b.aead.Seal(nonce, nonce, plain, nil)), nil
}

func (b *Bus) open(sealed string) (map[string]any, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns {
		return nil, errors.New("sealed payload too short")
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(plain, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func cloneMessage(m *Message) *Message {
	cp := *m
	if m.Payload != nil {
		cp.Payload = make(map[string]any, len(m.Payload))
		for k, v := range m.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}
