package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/treebank/internal/prompt"
	"github.com/vbonduro/treebank/internal/vision"
)

func TestOllamaInfer(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)

		resp := map[string]interface{}{
			"model":    got.Model,
			"response": "Species: Mango\nHealth Status: healthy",
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	c := New(server.URL, "llava")

	text, err := c.Infer(context.Background(), prompt.Payload{
		Prompt:   "identify",
		Image:    []byte{0xFF, 0xD8, 0xFF, 0xE0},
		MIMEType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, "Species: Mango\nHealth Status: healthy", text)
	assert.Equal(t, "llava", got.Model)
	assert.Equal(t, "identify", got.Prompt)
	assert.Len(t, got.Images, 1)
	assert.False(t, got.Stream)
}

func TestOllamaInferTextOnly(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"response": "Prune in the dry season."}`))
	}))
	defer server.Close()

	text, err := New(server.URL, "llava").Infer(context.Background(), prompt.Payload{Prompt: "when to prune?"})
	require.NoError(t, err)
	assert.Equal(t, "Prune in the dry season.", text)
	assert.Empty(t, got.Images)
}

func TestOllamaInferNetworkError(t *testing.T) {
	c := New("http://localhost:99999", "llava")

	_, err := c.Infer(context.Background(), prompt.Payload{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, vision.ErrTransport))
}

func TestOllamaInferStatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		expected error
	}{
		{http.StatusInternalServerError, vision.ErrTransport},
		{http.StatusTooManyRequests, vision.ErrRateLimit},
		{http.StatusUnauthorized, vision.ErrAuth},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			_, err := New(server.URL, "llava").Infer(context.Background(), prompt.Payload{Prompt: "x"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.expected))
		})
	}
}

func TestOllamaInferInvalidResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := New(server.URL, "llava").Infer(context.Background(), prompt.Payload{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, vision.ErrTransport))
}
