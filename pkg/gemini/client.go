// Package gemini wraps the Google GenAI SDK for text generation and
// embeddings.
package gemini

import (
	"context"
	"errors"
	"iter"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

// Client defines the Gemini operations used by completion and embedding.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Stream(ctx context.Context, req GenerateRequest) iter.Seq2[string, error]
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, error)
}

// GenerateRequest is a single-turn generation request.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int32
	JSON        bool
}

// EmbedRequest embeds a batch of texts.
type EmbedRequest struct {
	Model      string
	Texts      []string
	TaskType   string // e.g. RETRIEVAL_DOCUMENT, RETRIEVAL_QUERY
	Dimensions int32
}

type sdkClient struct {
	client *genai.Client
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (Client, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: api key is required")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, eris.Wrap(err, "gemini: new client")
	}
	return &sdkClient{client: c}, nil
}

func generateConfig(req GenerateRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: req.MaxTokens,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

func (c *sdkClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), generateConfig(req))
	if err != nil {
		return "", eris.Wrap(err, "gemini: generate")
	}
	return resp.Text(), nil
}

func (c *sdkClient) Stream(ctx context.Context, req GenerateRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range c.client.Models.GenerateContentStream(ctx, req.Model, genai.Text(req.Prompt), generateConfig(req)) {
			if err != nil {
				yield("", eris.Wrap(err, "gemini: stream"))
				return
			}
			if text := resp.Text(); text != "" && !yield(text, nil) {
				return
			}
		}
	}
}

func (c *sdkClient) Embed(ctx context.Context, req EmbedRequest) ([][]float32, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(req.Texts))
	for i, text := range req.Texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{TaskType: req.TaskType}
	if req.Dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(req.Dimensions)
	}
	result, err := c.client.Models.EmbedContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: embed")
	}
	if len(result.Embeddings) != len(req.Texts) {
		return nil, eris.Errorf("gemini: embed returned %d vectors for %d texts", len(result.Embeddings), len(req.Texts))
	}
	out := make([][]float32, len(result.Embeddings))
	for i, e := range result.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// StatusCode extracts the HTTP status from a Gemini API error, or 0.
func StatusCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}
