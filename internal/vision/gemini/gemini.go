// Package gemini is the default vision backend, backed by the Gemini API.
package gemini

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/vbonduro/treebank/internal/prompt"
	"github.com/vbonduro/treebank/internal/vision"
)

type Client struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// New builds a client for model. baseURL may be empty to use the public
// endpoint.
func New(ctx context.Context, apiKey, model, baseURL string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, goerr.Wrap(vision.ErrAuth, "gemini api key is empty")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return &Client{client: c, model: model, logger: logger}, nil
}

func (c *Client) Infer(ctx context.Context, p prompt.Payload) (string, error) {
	parts := make([]*genai.Part, 0, 2)
	if p.HasImage() {
		parts = append(parts, genai.NewPartFromBytes(p.Image, vision.NormaliseMIME(p.MIMEType)))
	}
	parts = append(parts, genai.NewPartFromText(p.Prompt))

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", classify(ctx, err)
	}

	text := responseText(resp)
	if text == "" {
		c.logger.Warn("gemini returned no text", "model", c.model)
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

func classify(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return wrapStatus(err, apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return wrapStatus(err, apiErrPtr.Code)
	}
	if ctx.Err() != nil {
		return goerr.Wrap(vision.ErrTransport, "gemini request cancelled", goerr.V("error", ctx.Err().Error()))
	}
	return goerr.Wrap(vision.ErrTransport, "failed to call gemini", goerr.V("error", err.Error()))
}

func wrapStatus(err error, code int) error {
	sentinel := vision.ClassifyStatus(code)
	if sentinel == nil {
		sentinel = vision.ErrTransport
	}
	return goerr.Wrap(sentinel, "gemini returned an error", goerr.V("status", code), goerr.V("error", err.Error()))
}
