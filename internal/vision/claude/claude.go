// Package claude is the Anthropic Messages API vision backend.
package claude

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/m-mizutani/goerr/v2"

	"github.com/vbonduro/treebank/internal/prompt"
	"github.com/vbonduro/treebank/internal/vision"
)

// maxTokens leaves room for the JSON analysis plus a free-text answer.
const maxTokens = 2048

type Client struct {
	client *anthropic.Client
	model  string
}

// New returns a Claude client. baseURL overrides the API root and is used by
// tests and proxies; leave it empty for the public endpoint.
func New(apiKey, model, baseURL string) *Client {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &Client{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (c *Client) Infer(ctx context.Context, p prompt.Payload) (string, error) {
	content := make([]anthropic.MessageContent, 0, 2)
	if p.HasImage() {
		content = append(content, anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
			anthropic.MessagesContentSourceTypeBase64,
			vision.NormaliseMIME(p.MIMEType),
			base64.StdEncoding.EncodeToString(p.Image),
		)))
	}
	content = append(content, anthropic.NewTextMessageContent(p.Prompt))

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: content,
		}},
	})
	if err != nil {
		return "", classify(ctx, err)
	}

	var b strings.Builder
	for _, blk := range resp.Content {
		if blk.Type != anthropic.MessagesContentTypeText {
			continue
		}
		b.WriteString(blk.GetText())
	}
	return b.String(), nil
}

func classify(ctx context.Context, err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch string(apiErr.Type) {
		case "authentication_error", "permission_error":
			return goerr.Wrap(vision.ErrAuth, "claude rejected credential", goerr.V("error", err.Error()))
		case "rate_limit_error":
			return goerr.Wrap(vision.ErrRateLimit, "claude rate limited", goerr.V("error", err.Error()))
		default:
			return goerr.Wrap(vision.ErrTransport, "claude returned an error", goerr.V("type", string(apiErr.Type)), goerr.V("error", err.Error()))
		}
	}

	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		sentinel := vision.ClassifyStatus(reqErr.StatusCode)
		if sentinel == nil {
			sentinel = vision.ErrTransport
		}
		return goerr.Wrap(sentinel, "claude request failed", goerr.V("status", reqErr.StatusCode), goerr.V("error", err.Error()))
	}

	if ctx.Err() != nil {
		return goerr.Wrap(vision.ErrTransport, "claude request cancelled", goerr.V("error", ctx.Err().Error()))
	}
	return goerr.Wrap(vision.ErrTransport, "failed to call claude", goerr.V("error", err.Error()))
}
