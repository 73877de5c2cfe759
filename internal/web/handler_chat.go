package web

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/vbonduro/treebank/internal/domain"
	"github.com/vbonduro/treebank/internal/service"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	TreeID    string `json:"tree_id"`
	Log       bool   `json:"log"`
}

type chatResponse struct {
	SessionID string          `json:"session_id"`
	Reply     domain.ChatTurn `json:"reply"`
	ReplyHTML template.HTML   `json:"reply_html"`
	Logged    bool            `json:"logged"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := s.service.Chat(r.Context(), service.ChatRequest{
		SessionID: req.SessionID,
		Message:   req.Message,
		TreeID:    req.TreeID,
		Log:       req.Log,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: out.SessionID,
		Reply:     out.Reply,
		ReplyHTML: renderMarkdown(out.Reply.Text),
		Logged:    out.Logged,
	})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := s.service.ChatHistory(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleChatSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ChatSessions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// renderMarkdown converts the model's markdown reply to HTML. goldmark's
// default renderer drops raw HTML, so the output is safe to embed.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md)) // #nosec G203 - escaped above
	}
	return template.HTML(buf.String()) // #nosec G203 - raw HTML omitted by goldmark
}
