package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/petvet/biometry/internal/config"
	"github.com/petvet/biometry/internal/imaging"
)

// Client talks to the embedding server over HTTP. The server hosts the
// actual backbone; the client handles preprocessing, transport and
// response validation, so the rest of the system only ever sees vectors
// of the registry dimension.
type Client struct {
	baseURL   string
	identity  string
	dim       int
	inputSize int
	client    *http.Client
}

// NewClient validates the configured identity against the registry and
// returns a ready client. The returned client is safe for concurrent use.
func NewClient(cfg config.ExtractorConfig, registry *config.ExtractorRegistry) (*Client, error) {
	dim := registry.Dim(cfg.Identity)
	if dim == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIdentity, cfg.Identity)
	}
	return &Client{
		baseURL:   strings.TrimSuffix(cfg.URL, "/"),
		identity:  cfg.Identity,
		dim:       dim,
		inputSize: registry.InputSize(cfg.Identity),
		client:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) Identity() string { return c.identity }

func (c *Client) Dim() int { return c.dim }

// embeddingResponse represents the response from the embedding server.
type embeddingResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// Extract resizes the crop to the backbone input size, posts it to the
// embedding server and returns the L2-normalized vector.
func (c *Client) Extract(ctx context.Context, img image.Image) ([]float32, error) {
	resized := imaging.Resize(img, c.inputSize, c.inputSize)
	data, err := imaging.EncodeJPEG(resized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}

	body, err := c.postMultipartImage(ctx, "/embed/image", data)
	if err != nil {
		return nil, err
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrUnavailable)
	}
	if len(embResp.Embedding) != c.dim {
		return nil, fmt.Errorf("%w: server returned dim %d, registry expects %d for %q",
			ErrUnavailable, len(embResp.Embedding), c.dim, c.identity)
	}

	// The server should normalize already, but the cosine math downstream
	// depends on unit vectors, so enforce it here.
	return l2Normalize(embResp.Embedding), nil
}

// postMultipartImage constructs a multipart form with the image data and
// the backbone identity and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "crop.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.WriteField("model", c.identity); err != nil {
		return nil, fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API error (status %d): %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	return body, nil
}

// l2Normalize scales the vector to unit length in place. Zero vectors
// are returned unchanged.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
