package compose

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	streamBaseURL  = "https://api.sonicalchemy.io/stream/"
	waveformPoints = 100
)

// Service synthesizes compositions and keeps each user's library.
type Service struct {
	gen         Generator
	renderDelay time.Duration
	logger      *zap.Logger

	mu      sync.RWMutex
	library map[string][]*Composition
}

// NewService creates a Service. renderDelay is the simulated audio render
// time waited after the model replies.
func NewService(gen Generator, renderDelay time.Duration, logger *zap.Logger) *Service {
	return &Service{
		gen:         gen,
		renderDelay: renderDelay,
		logger:      logger,
		library:     make(map[string][]*Composition),
	}
}

// Synthesize generates a composition for userID and adds it to their
// library. Cancelling ctx aborts both generation and rendering.
func (s *Service) Synthesize(ctx context.Context, userID string, req Request) (*Composition, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	draft, err := s.gen.Generate(ctx, BuildPrompt(req))
	if err != nil {
		return nil, err
	}

	if s.renderDelay > 0 {
		timer := time.NewTimer(s.renderDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("render aborted: %w", ctx.Err())
		case <-timer.C:
		}
	}

	now := time.Now().UTC()
	c := &Composition{
		ID:              uuid.New().String(),
		UserID:          userID,
		Title:           draft.Title,
		Description:     draft.Description,
		Instrumentation: draft.Instrumentation,
		Genre:           req.Genre,
		Mood:            req.Mood,
		Tempo:           req.Tempo,
		KeySignature:    draft.KeySignature,
		DurationSeconds: draft.SuggestedDuration,
		Waveform:        waveform(),
		Tags:            []string{req.Genre, req.Mood},
		Public:          true,
		ModelUsed:       s.gen.Model(),
		OriginalPrompt:  req.Prompt,
		CreatedAt:       now,
		LastModifiedAt:  now,
	}
	c.AudioURL = streamBaseURL + c.ID
	if c.Title == "" {
		c.Title = "Untitled"
	}
	if len(c.Instrumentation) == 0 {
		c.Instrumentation = slices.Clone(Instruments[:3])
	}
	if c.KeySignature == "" {
		c.KeySignature = DefaultKeySignature
	}
	if c.DurationSeconds <= 0 {
		c.DurationSeconds = DefaultDurationSeconds
	}

	s.mu.Lock()
	s.library[userID] = append(s.library[userID], c)
	s.mu.Unlock()

	s.logger.Info("composition synthesized",
		zap.String("composition_id", c.ID),
		zap.String("user_id", userID),
		zap.String("title", c.Title),
		zap.String("model", c.ModelUsed),
	)
	return clone(c), nil
}

// Library returns userID's compositions, newest first.
func (s *Service) Library(userID string) []*Composition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	comps := s.library[userID]
	out := make([]*Composition, 0, len(comps))
	for i := len(comps) - 1; i >= 0; i-- {
		out = append(out, clone(comps[i]))
	}
	return out
}

func waveform() []float64 {
	w := make([]float64, waveformPoints)
	for i := range w {
		w[i] = rand.Float64()
	}
	return w
}

func clone(c *Composition) *Composition {
	cp := *c
	cp.Instrumentation = slices.Clone(c.Instrumentation)
	cp.Waveform = slices.Clone(c.Waveform)
	cp.Tags = slices.Clone(c.Tags)
	return &cp
}
