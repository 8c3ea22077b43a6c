package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// Defaults for the hosted generation API.
const (
	DefaultEndpoint = "https://generativelanguage.googleapis.com"
	DefaultModel    = "gemini-3-flash-preview"
)

// GeminiConfig configures a GeminiGenerator. Exactly one of APIKey or
// BearerToken authenticates requests; BearerToken wins when both are set.
type GeminiConfig struct {
	Endpoint    string
	Model       string
	APIKey      string
	BearerToken string
	Timeout     time.Duration
}

// GeminiGenerator calls the generateContent method of the generative
// language API and asks for a JSON reply.
type GeminiGenerator struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
}

// NewGeminiGenerator creates a GeminiGenerator from cfg.
func NewGeminiGenerator(cfg GeminiConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" && cfg.BearerToken == "" {
		return nil, fmt.Errorf("generation api key or bearer token is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	client := &http.Client{Timeout: cfg.Timeout}
	apiKey := cfg.APIKey
	if cfg.BearerToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken, TokenType: "Bearer"})
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = oauth2.NewClient(ctx, ts)
		client.Timeout = cfg.Timeout
		apiKey = ""
	}

	return &GeminiGenerator{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   apiKey,
		http:     client,
	}, nil
}

// Model implements Generator.
func (g *GeminiGenerator) Model() string { return g.model }

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (*Draft, error) {
	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}

	u := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.endpoint, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("x-goog-api-key", g.apiKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGeneration, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrGeneration, resp.StatusCode, msg)
	}

	text := gjson.GetBytes(raw, "candidates.0.content.parts.0.text")
	if !text.Exists() {
		return nil, fmt.Errorf("%w: reply has no content", ErrGeneration)
	}
	return parseDraft(text.String())
}

// parseDraft reads the model's JSON reply. Fields of the wrong type are
// treated as absent.
func parseDraft(reply string) (*Draft, error) {
	if !gjson.Valid(reply) {
		return nil, fmt.Errorf("%w: reply is not valid JSON", ErrGeneration)
	}
	doc := gjson.Parse(reply)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: reply is not a JSON object", ErrGeneration)
	}

	d := &Draft{
		Title:        str(doc.Get("title")),
		Description:  str(doc.Get("description")),
		KeySignature: str(doc.Get("keySignature")),
	}
	if dur := doc.Get("suggestedDuration"); dur.Type == gjson.Number {
		d.SuggestedDuration = int(dur.Int())
	}
	if inst := doc.Get("instrumentation"); inst.IsArray() {
		for _, v := range inst.Array() {
			if s := strings.TrimSpace(str(v)); s != "" {
				d.Instrumentation = append(d.Instrumentation, s)
			}
		}
	}
	return d, nil
}

func str(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}
