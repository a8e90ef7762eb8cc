// Package validate runs an optional pre-check that an uploaded photo
// actually shows the expected species, using a vision model provider.
package validate

import (
	_ "embed"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/petvet/biometry/internal/config"
)

//go:embed prompts/species_check.txt
var speciesCheckPrompt string

// minDetectionConfidence is the provider confidence below which a
// detection does not count as a definite species mismatch.
const minDetectionConfidence = 0.30

// uploadMaxSize bounds the pixels sent to the vision provider.
const uploadMaxSize = 800

// Verdict is the outcome of one species check. Enabled=false means no
// provider ran; the upload proceeds either way unless Valid is false.
type Verdict struct {
	Enabled    bool    `json:"enabled"`
	Valid      bool    `json:"valid"`
	Detected   string  `json:"detected_species,omitempty"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message,omitempty"`
}

// Provider is a vision backend that can judge the species in a photo.
type Provider interface {
	Name() string
	CheckSpecies(ctx context.Context, imageData []byte, expectedSpecies string) (*Verdict, error)
}

// Service wraps a provider and degrades to "validation disabled" when
// none is configured or the provider fails. A broken validator must
// never block an upload.
type Service struct {
	provider Provider
}

// NewService builds the configured provider. Misconfiguration logs and
// yields a disabled service, not an error.
func NewService(ctx context.Context, cfg config.ValidationConfig) *Service {
	switch cfg.Provider {
	case "":
		return &Service{}
	case "openai":
		if cfg.OpenAIToken == "" {
			log.Printf("validate: openai provider selected but OPENAI_TOKEN empty, validation disabled")
			return &Service{}
		}
		return &Service{provider: NewOpenAIProvider(cfg.OpenAIToken)}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			log.Printf("validate: gemini provider selected but GEMINI_API_KEY empty, validation disabled")
			return &Service{}
		}
		p, err := NewGeminiProvider(ctx, cfg.GeminiAPIKey)
		if err != nil {
			log.Printf("validate: failed to create gemini provider: %v, validation disabled", err)
			return &Service{}
		}
		return &Service{provider: p}
	default:
		log.Printf("validate: unknown provider %q, validation disabled", cfg.Provider)
		return &Service{}
	}
}

// NewServiceWithProvider wires an explicit provider, used by tests.
func NewServiceWithProvider(p Provider) *Service {
	return &Service{provider: p}
}

// Check runs the species pre-check. Provider errors degrade to a
// disabled verdict so the caller can always proceed.
func (s *Service) Check(ctx context.Context, imageData []byte, expectedSpecies string) *Verdict {
	if s.provider == nil {
		return &Verdict{Enabled: false, Valid: true, Message: "validation disabled"}
	}

	verdict, err := s.provider.CheckSpecies(ctx, imageData, strings.ToLower(expectedSpecies))
	if err != nil {
		log.Printf("validate: %s check failed: %v", s.provider.Name(), err)
		return &Verdict{Enabled: false, Valid: true, Message: "validation unavailable"}
	}
	return verdict
}

// speciesResponse is the JSON contract shared by all providers.
type speciesResponse struct {
	Present    bool    `json:"expected_species_present"`
	Detected   string  `json:"detected_species"`
	Confidence float64 `json:"confidence"`
}

// parseVerdict interprets a provider's JSON reply. Low-confidence
// mismatches pass: rejecting an upload needs a confident detection.
func parseVerdict(content, expectedSpecies string) (*Verdict, error) {
	var resp speciesResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse species response: %w", err)
	}

	v := &Verdict{
		Enabled:    true,
		Detected:   strings.ToLower(resp.Detected),
		Confidence: resp.Confidence,
	}
	switch {
	case resp.Present:
		v.Valid = true
		v.Message = fmt.Sprintf("%s detected", expectedSpecies)
	case resp.Confidence < minDetectionConfidence:
		v.Valid = true
		v.Message = fmt.Sprintf("low confidence detection (%s), accepting upload", v.Detected)
	default:
		v.Valid = false
		v.Message = fmt.Sprintf("expected %s, detected %s", expectedSpecies, v.Detected)
	}
	return v, nil
}
