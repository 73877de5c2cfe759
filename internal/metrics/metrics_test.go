package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New()

	m.ObserveModelCall("analyze", 2*time.Second, "")
	m.ObserveModelCall("analyze", time.Second, "rate_limit")
	m.ObserveModelCall("chat", 300*time.Millisecond, "")
	m.TreeSaved()
	m.ChatTurnsLogged(2)

	body := scrape(t, m)
	assert.Contains(t, body, `treebank_model_calls_total{op="analyze"} 2`)
	assert.Contains(t, body, `treebank_model_calls_total{op="chat"} 1`)
	assert.Contains(t, body, `treebank_model_errors_total{kind="rate_limit",op="analyze"} 1`)
	assert.Contains(t, body, `treebank_model_request_seconds_count{op="analyze"} 2`)
	assert.Contains(t, body, "treebank_trees_saved_total 1")
	assert.Contains(t, body, "treebank_chat_turns_logged_total 2")
	assert.Contains(t, body, "go_goroutines")
}

func TestIndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.TreeSaved()

	assert.Contains(t, scrape(t, a), "treebank_trees_saved_total 1")
	assert.Contains(t, scrape(t, b), "treebank_trees_saved_total 0")
}
