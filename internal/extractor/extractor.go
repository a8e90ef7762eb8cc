// Package extractor wraps the external feature-extraction service that
// turns image crops into fixed-length embedding vectors.
package extractor

import (
	"context"
	"errors"
	"image"
)

// ErrUnavailable indicates the extraction backend cannot be reached or
// is misconfigured. This is a dependency error, not an input error: it
// is fatal for the operation and must not be retried automatically.
var ErrUnavailable = errors.New("feature extractor unavailable")

// ErrUnknownIdentity indicates a backbone identity missing from the
// embedded registry.
var ErrUnknownIdentity = errors.New("unknown extractor identity")

// Extractor produces an L2-normalized embedding for an image crop.
// Implementations must be deterministic for a given input and identity,
// and safe for concurrent use.
type Extractor interface {
	// Identity returns the backbone identity (e.g. "efficientnet_b0").
	Identity() string
	// Dim returns the embedding dimension for this identity.
	Dim() int
	// Extract computes the embedding of one crop.
	Extract(ctx context.Context, img image.Image) ([]float32, error)
}
