// Package compose turns a user's prompt into a composition by asking a
// text generation model for structured musical metadata.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyPrompt is returned when the request has no prompt text.
	ErrEmptyPrompt = errors.New("prompt is required")

	// ErrInvalidTempo is returned for tempos outside MinTempo..MaxTempo.
	ErrInvalidTempo = errors.New("tempo out of range")

	// ErrGeneration wraps every failure of the generation backend.
	ErrGeneration = errors.New("generation failed")
)

// Tempo bounds in BPM.
const (
	MinTempo     = 60
	MaxTempo     = 180
	DefaultTempo = 120
)

// Defaults applied when the model omits a field.
const (
	DefaultKeySignature    = "C Minor"
	DefaultDurationSeconds = 180
)

var (
	Genres      = []string{"Ambient", "Cyberpunk", "Techno", "Cinematic", "Lofi", "Orchestral"}
	Moods       = []string{"Aggressive", "Serene", "Mysterious", "Melancholic", "Ethereal", "Tense"}
	Instruments = []string{"Neural Pad", "Bass Pulse", "Granular Texture", "Piano", "Glitch Percussion", "Vocoder"}
)

// Request is a user's synthesis request.
type Request struct {
	Prompt string `json:"prompt"`
	Genre  string `json:"genre"`
	Mood   string `json:"mood"`
	Tempo  int    `json:"tempo"`
}

// normalize fills defaults and validates r.
func (r *Request) normalize() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return ErrEmptyPrompt
	}
	if r.Genre == "" {
		r.Genre = "Cyberpunk"
	}
	if r.Mood == "" {
		r.Mood = "Mysterious"
	}
	if r.Tempo == 0 {
		r.Tempo = DefaultTempo
	}
	if r.Tempo < MinTempo || r.Tempo > MaxTempo {
		return fmt.Errorf("%w: %d BPM", ErrInvalidTempo, r.Tempo)
	}
	return nil
}

// BuildPrompt renders the structured instruction sent to the model.
func BuildPrompt(r Request) string {
	var b strings.Builder
	b.WriteString("Role: Music Composer AI\n")
	fmt.Fprintf(&b, "User Request: %s\n", r.Prompt)
	fmt.Fprintf(&b, "Params: Genre: %s, Mood: %s, Target Tempo: %dBPM\n", r.Genre, r.Mood, r.Tempo)
	b.WriteString("Output Requirement: JSON with title, description, instrumentation (array), suggestedDuration (number), keySignature.\n")
	return b.String()
}

// Draft is the structured reply of a generator. Zero fields mean the model
// left them out.
type Draft struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Instrumentation   []string `json:"instrumentation"`
	SuggestedDuration int      `json:"suggestedDuration"`
	KeySignature      string   `json:"keySignature"`
}

// Generator produces a Draft for a rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Draft, error)
	Model() string
}

// Composition is a synthesized piece stored in a user's library.
type Composition struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Instrumentation []string  `json:"instrumentation"`
	Genre           string    `json:"genre"`
	Mood            string    `json:"mood"`
	Tempo           int       `json:"tempo"`
	KeySignature    string    `json:"key_signature"`
	DurationSeconds int       `json:"duration_seconds"`
	AudioURL        string    `json:"audio_url"`
	Waveform        []float64 `json:"waveform"`
	Tags            []string  `json:"tags"`
	Public          bool      `json:"is_public"`
	ModelUsed       string    `json:"model_used"`
	OriginalPrompt  string    `json:"original_prompt"`
	CreatedAt       time.Time `json:"created_at"`
	LastModifiedAt  time.Time `json:"last_modified_at"`
}
