package validate

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/petvet/biometry/internal/imaging"
)

const geminiModel = "gemini-2.5-flash"

// GeminiProvider checks species with a Gemini vision model.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a Gemini-backed species checker.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string {
	return geminiModel
}

// CheckSpecies asks the model whether the photo shows the expected
// species and parses its JSON verdict.
func (p *GeminiProvider) CheckSpecies(ctx context.Context, imageData []byte, expectedSpecies string) (*Verdict, error) {
	resized, err := imaging.ResizeToFit(imageData, uploadMaxSize)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: speciesCheckPrompt + "\n\nExpected species: " + expectedSpecies},
				{InlineData: &genai.Blob{Data: resized, MIMEType: "image/jpeg"}},
			},
		},
	}
	genConfig := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	var lastError error
	for range maxParseRetries {
		result, err := p.client.Models.GenerateContent(ctx, geminiModel, contents, genConfig)
		if err != nil {
			return nil, fmt.Errorf("gemini API error: %w", err)
		}

		content := result.Text()
		if content == "" {
			return nil, errors.New("no response from Gemini")
		}

		verdict, err := parseVerdict(content, expectedSpecies)
		if err != nil {
			lastError = err
			contents = append(contents,
				&genai.Content{
					Role:  "model",
					Parts: []*genai.Part{{Text: content}},
				},
				&genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: fmt.Sprintf("JSON parse error: %v. Please fix the JSON and try again.", err)}},
				},
			)
			continue
		}
		return verdict, nil
	}

	return nil, fmt.Errorf("failed to parse species verdict after %d attempts: %w", maxParseRetries, lastError)
}
