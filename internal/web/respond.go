package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vbonduro/treebank/internal/catalog"
	"github.com/vbonduro/treebank/internal/photostore"
	"github.com/vbonduro/treebank/internal/portfolio"
	"github.com/vbonduro/treebank/internal/service"
	"github.com/vbonduro/treebank/internal/store"
	"github.com/vbonduro/treebank/internal/vision"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a service error to the HTTP status and the message shown to
// the client. Only validation errors echo their own text; everything else
// stays in the log.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "species template not found"
	case errors.Is(err, portfolio.ErrNotFound):
		return http.StatusNotFound, "tree not found"
	case errors.Is(err, photostore.ErrNotFound):
		return http.StatusNotFound, "photo not found"
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, portfolio.ErrInvalid),
		errors.Is(err, store.ErrInvalidTurn):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, vision.ErrAuth):
		return http.StatusBadGateway, "model credential rejected"
	case errors.Is(err, vision.ErrRateLimit):
		return http.StatusTooManyRequests, "model rate limited, try again later"
	case errors.Is(err, vision.ErrTransport):
		return http.StatusBadGateway, "model unreachable"
	case errors.Is(err, portfolio.ErrCorrupt):
		return http.StatusServiceUnavailable, "portfolio file is corrupt"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
