package web

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/treebank/internal/catalog"
	"github.com/vbonduro/treebank/internal/photostore"
	"github.com/vbonduro/treebank/internal/portfolio"
	"github.com/vbonduro/treebank/internal/service"
	"github.com/vbonduro/treebank/internal/vision"
)

func TestAllowedImageMIME(t *testing.T) {
	tests := []struct {
		name         string
		data         []byte
		wantMIME     string
		wantDetected bool
	}{
		{
			name:         "JPEG",
			data:         []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10},
			wantMIME:     "image/jpeg",
			wantDetected: true,
		},
		{
			name:         "PNG",
			data:         []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00},
			wantMIME:     "image/png",
			wantDetected: true,
		},
		{
			name:         "GIF",
			data:         []byte("GIF89a"),
			wantMIME:     "image/gif",
			wantDetected: true,
		},
		{
			name:         "WebP",
			data:         append([]byte("RIFF\x00\x00\x00\x00WEBP"), make([]byte, 10)...),
			wantMIME:     "image/webp",
			wantDetected: true,
		},
		{
			name:         "RIFF but not WebP",
			data:         append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 10)...),
			wantMIME:     "",
			wantDetected: false,
		},
		{
			name:         "PDF disguised as image",
			data:         []byte("%PDF-1.4 malicious content"),
			wantMIME:     "",
			wantDetected: false,
		},
		{
			name:         "empty",
			data:         []byte{},
			wantMIME:     "",
			wantDetected: false,
		},
		{
			name:         "too short for WebP check",
			data:         []byte("RIFF"),
			wantMIME:     "",
			wantDetected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMIME, gotDetected := allowedImageMIME(tt.data)
			assert.Equal(t, tt.wantDetected, gotDetected)
			assert.Equal(t, tt.wantMIME, gotMIME)
		})
	}
}

func TestFormBool(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{in: "", want: false},
		{in: "true", want: true},
		{in: "1", want: true},
		{in: "on", want: true},
		{in: " false ", want: false},
		{in: "maybe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := formBool(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{name: "unknown species", err: goerr.Wrap(catalog.ErrNotFound, "x"), wantStatus: http.StatusNotFound, wantMsg: "species template not found"},
		{name: "unknown tree", err: goerr.Wrap(portfolio.ErrNotFound, "x"), wantStatus: http.StatusNotFound, wantMsg: "tree not found"},
		{name: "missing photo", err: goerr.Wrap(photostore.ErrNotFound, "x"), wantStatus: http.StatusNotFound, wantMsg: "photo not found"},
		{name: "validation", err: goerr.Wrap(service.ErrInvalidInput, "message is empty"), wantStatus: http.StatusBadRequest},
		{name: "bad record", err: goerr.Wrap(portfolio.ErrInvalid, "care log activity is empty"), wantStatus: http.StatusBadRequest},
		{name: "auth", err: goerr.Wrap(vision.ErrAuth, "401"), wantStatus: http.StatusBadGateway, wantMsg: "model credential rejected"},
		{name: "rate limit", err: goerr.Wrap(vision.ErrRateLimit, "429"), wantStatus: http.StatusTooManyRequests},
		{name: "transport", err: goerr.Wrap(vision.ErrTransport, "dial"), wantStatus: http.StatusBadGateway, wantMsg: "model unreachable"},
		{name: "corrupt", err: goerr.Wrap(portfolio.ErrCorrupt, "x"), wantStatus: http.StatusServiceUnavailable},
		{name: "other", err: errors.New("disk on fire"), wantStatus: http.StatusInternalServerError, wantMsg: "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := statusFor(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, msg)
			}
			assert.NotContains(t, msg, "disk on fire")
		})
	}
}

func TestRenderMarkdown(t *testing.T) {
	got := string(renderMarkdown("Use *mulch*.\n\n<img src=x onerror=alert(1)>"))

	assert.Contains(t, got, "<em>mulch</em>")
	assert.False(t, strings.Contains(got, "onerror"))
}
