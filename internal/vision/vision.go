// Package vision sends formatted prompts to a multimodal model and returns its
// raw text reply.
package vision

import (
	"context"
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"

	"github.com/vbonduro/treebank/internal/prompt"
)

// Client performs exactly one model request per call. Implementations never
// retry and never cache.
type Client interface {
	Infer(ctx context.Context, p prompt.Payload) (string, error)
}

var (
	ErrTransport = goerr.New("model unreachable")
	ErrAuth      = goerr.New("model credential rejected")
	ErrRateLimit = goerr.New("model rate limited")
)

// ClassifyStatus maps a provider HTTP status to one of the sentinels above.
// Successful statuses return nil.
func ClassifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusTooManyRequests:
		return ErrRateLimit
	default:
		return ErrTransport
	}
}

// Kind names the sentinel err wraps, for metric labels and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRateLimit):
		return "rate_limit"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "other"
	}
}

// NormaliseMIME maps browser MIME types to the set every provider accepts.
// Unknown types fall back to jpeg; uploads are sniffed before they get here.
func NormaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
