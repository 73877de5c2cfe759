package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vbonduro/treebank/internal/service"
)

const maxJSONBody = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleListTrees(w http.ResponseWriter, r *http.Request) {
	trees, err := s.service.ListTrees(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trees)
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.service.GetTree(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleUpdateTree(w http.ResponseWriter, r *http.Request) {
	var u service.TreeUpdate
	if !decodeJSON(w, r, &u) {
		return
	}

	tree, err := s.service.UpdateTree(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleDeleteTree(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTree(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type careRequest struct {
	Activity string `json:"activity"`
	Notes    string `json:"notes"`
}

func (s *Server) handleAddCareLog(w http.ResponseWriter, r *http.Request) {
	var req careRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tree, err := s.service.AddCareLog(r.Context(), chi.URLParam(r, "id"), req.Activity, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tree)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.Export(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="tree_data.json"`)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write export failed", "error", err)
	}
}

func (s *Server) handlePrompts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Prompts())
}
