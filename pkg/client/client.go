package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when the server responds 404.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized is returned when the server responds 401 or 403.
var ErrUnauthorized = errors.New("unauthorized")

// ErrConflict is returned when the server responds 409, for example when a
// session is requested for a user id that is already registered.
var ErrConflict = errors.New("conflict")

// CreditTokenID is the studio credit token.
const CreditTokenID = "SA-CREDIT-ID"

// Session is returned by InitSession.
type Session struct {
	Identity    Identity        `json:"identity"`
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   int             `json:"expires_in"`
	Balance     decimal.Decimal `json:"balance"`
}

// Identity is a registered user, agent or service.
type Identity struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	PublicKey string   `json:"public_key"`
	Roles     []string `json:"roles"`
	Level     string   `json:"verification_level"`
	Status    string   `json:"status"`
}

// Balance is one account's holding in one token.
type Balance struct {
	AccountID string          `json:"account_id"`
	TokenID   string          `json:"token_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// Transaction is a completed mint or transfer.
type Transaction struct {
	ID                   string          `json:"id"`
	Type                 string          `json:"type"`
	InitiatorID          string          `json:"initiator_id"`
	SourceAccountID      string          `json:"source_account_id,omitempty"`
	DestinationAccountID string          `json:"destination_account_id"`
	TokenID              string          `json:"token_id"`
	Amount               decimal.Decimal `json:"amount"`
	Timestamp            time.Time       `json:"timestamp"`
	Status               string          `json:"status"`
	RiskScore            float64         `json:"risk_score"`
	RoutingPath          []string        `json:"routing_path"`
}

// TransferRequest is the payload for Transfer.
type TransferRequest struct {
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Rail        string          `json:"rail,omitempty"`
}

// Rail is a settlement rail.
type Rail struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	LatencyMs          int      `json:"latency_ms"`
	CostPerTx          float64  `json:"cost_per_tx"`
	SecurityLevel      string   `json:"security_level"`
	ThroughputTxPerSec int      `json:"throughput_tx_per_sec"`
	Active             bool     `json:"is_active"`
	Policies           []string `json:"policies"`
}

// AuditEntry is one signed link of the audit chain.
type AuditEntry struct {
	Index     int            `json:"index"`
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EntityID  string         `json:"entity_id"`
	EventType string         `json:"event_type"`
	Details   map[string]any `json:"details"`
	Hash      string         `json:"hash"`
	PrevHash  string         `json:"prev_hash"`
	Signature string         `json:"signature"`
}

// Verification is the result of an integrity check.
type Verification struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// CompositionRequest is the payload for Compose.
type CompositionRequest struct {
	Prompt string `json:"prompt"`
	Genre  string `json:"genre,omitempty"`
	Mood   string `json:"mood,omitempty"`
	Tempo  int    `json:"tempo,omitempty"`
}

// Composition is a generated track.
type Composition struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Instrumentation []string  `json:"instrumentation"`
	Genre           string    `json:"genre"`
	Mood            string    `json:"mood"`
	Tempo           int       `json:"tempo"`
	KeySignature    string    `json:"key_signature"`
	DurationSeconds int       `json:"duration_seconds"`
	AudioURL        string    `json:"audio_url"`
	ModelUsed       string    `json:"model_used"`
	CreatedAt       time.Time `json:"created_at"`
}

// Client talks to a sonicd server.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	adminSecret string

	// rail list cache, guarded by mu
	mu          sync.Mutex
	cacheTTL    time.Duration
	rails       []Rail
	railsExpiry time.Time
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a session token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithAdminSecret sets the operator secret used by AdminToken.
func WithAdminSecret(secret string) Option {
	return func(c *Client) error {
		c.adminSecret = secret
		return nil
	}
}

// WithCacheTTL caches the rail list for ttl.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		if ttl < 0 {
			return fmt.Errorf("cache ttl must not be negative")
		}
		c.cacheTTL = ttl
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", base, err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SetBearerToken replaces the session token used for later requests.
func (c *Client) SetBearerToken(token string) {
	c.bearerToken = token
}

// InitSession registers userID and starts its first studio session. It
// fails with ErrConflict when userID is already registered. The returned
// token is also attached to later requests made with c.
func (c *Client) InitSession(ctx context.Context, userID string) (*Session, error) {
	var s Session
	if err := c.call(ctx, http.MethodPost, "/api/v1/sessions", map[string]string{"user_id": userID}, &s); err != nil {
		return nil, err
	}
	c.SetBearerToken(s.AccessToken)
	return &s, nil
}

// RefreshSession trades the current session token for a new one.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	if c.bearerToken == "" {
		return nil, fmt.Errorf("%w: no session token to refresh", ErrUnauthorized)
	}
	var s Session
	if err := c.call(ctx, http.MethodPost, "/api/v1/sessions/refresh", nil, &s); err != nil {
		return nil, err
	}
	c.SetBearerToken(s.AccessToken)
	return &s, nil
}

// AdminToken exchanges the configured admin secret for a system token.
func (c *Client) AdminToken(ctx context.Context) (string, error) {
	if c.adminSecret == "" {
		return "", fmt.Errorf("admin secret is not configured")
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/admin/token", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Admin-Secret", c.adminSecret)

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	return payload.AccessToken, nil
}

// Balance returns account's holding in tokenID.
func (c *Client) Balance(ctx context.Context, account, tokenID string) (*Balance, error) {
	path := "/api/v1/balances/" + url.PathEscape(account) + "?token=" + url.QueryEscape(tokenID)
	var b Balance
	if err := c.call(ctx, http.MethodGet, path, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Transfer moves credit from the session's identity.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*Transaction, error) {
	var tx Transaction
	if err := c.call(ctx, http.MethodPost, "/api/v1/transfers", req, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Transactions lists transactions touching account, newest first.
func (c *Client) Transactions(ctx context.Context, account string) ([]Transaction, error) {
	var payload struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/transactions?account="+url.QueryEscape(account), nil, &payload); err != nil {
		return nil, err
	}
	return payload.Transactions, nil
}

// Rails lists the active settlement rails.
func (c *Client) Rails(ctx context.Context) ([]Rail, error) {
	c.mu.Lock()
	if c.rails != nil && time.Now().Before(c.railsExpiry) {
		out := c.rails
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	var payload struct {
		Rails []Rail `json:"rails"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/rails", nil, &payload); err != nil {
		return nil, err
	}

	if c.cacheTTL > 0 {
		c.mu.Lock()
		c.rails = payload.Rails
		c.railsExpiry = time.Now().Add(c.cacheTTL)
		c.mu.Unlock()
	}
	return payload.Rails, nil
}

// Audit returns the audit chain, newest first when desc is set.
func (c *Client) Audit(ctx context.Context, desc bool) ([]AuditEntry, error) {
	order := "asc"
	if desc {
		order = "desc"
	}
	var payload struct {
		Entries []AuditEntry `json:"entries"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit?order="+order, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Entries, nil
}

// VerifyAudit asks the server to check every audit hash, link and signature.
func (c *Client) VerifyAudit(ctx context.Context) (*Verification, error) {
	var v Verification
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit/verify", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// VerifyLedger asks the server to check the ledger entry chain.
func (c *Client) VerifyLedger(ctx context.Context) (*Verification, error) {
	var v Verification
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/verify", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Compose generates a composition for the session's identity.
func (c *Client) Compose(ctx context.Context, req CompositionRequest) (*Composition, error) {
	var comp Composition
	if err := c.call(ctx, http.MethodPost, "/api/v1/compositions", req, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

// Library lists the session identity's compositions, newest first.
func (c *Client) Library(ctx context.Context) ([]Composition, error) {
	var payload struct {
		Compositions []Composition `json:"compositions"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/compositions", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Compositions, nil
}

// call sends reqBody as JSON and decodes the response into respBody.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, errorMessage(body, req.URL.Path))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, errorMessage(body, ""))
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrConflict, errorMessage(body, ""))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, errorMessage(body, ""))
	}
	return body, nil
}

// errorMessage extracts the "error" field of a JSON error body.
func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	if fallback != "" {
		return fallback
	}
	return strings.TrimSpace(string(body))
}
