// Package ollama talks to a local Ollama server over its HTTP generate API.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/m-mizutani/goerr/v2"

	"github.com/vbonduro/treebank/internal/prompt"
	"github.com/vbonduro/treebank/internal/vision"
)

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type Client struct {
	host   string
	model  string
	client *http.Client
}

func New(host, model string) *Client {
	return &Client{
		host:   host,
		model:  model,
		client: &http.Client{},
	}
}

func (c *Client) Infer(ctx context.Context, p prompt.Payload) (string, error) {
	body := generateRequest{
		Model:  c.model,
		Prompt: p.Prompt,
		Stream: false,
	}
	if p.HasImage() {
		body.Images = []string{base64.StdEncoding.EncodeToString(p.Image)}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal ollama request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", goerr.Wrap(vision.ErrTransport, "failed to create ollama request", goerr.V("host", c.host), goerr.V("error", err.Error()))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", goerr.Wrap(vision.ErrTransport, "failed to call ollama", goerr.V("host", c.host), goerr.V("error", err.Error()))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close ollama response body", "error", err)
		}
	}()

	if sentinel := vision.ClassifyStatus(resp.StatusCode); sentinel != nil {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", goerr.Wrap(sentinel, "ollama returned an error", goerr.V("status", resp.StatusCode), goerr.V("body", string(errBody)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", goerr.Wrap(vision.ErrTransport, "failed to decode ollama response", goerr.V("error", err.Error()))
	}
	return out.Response, nil
}
