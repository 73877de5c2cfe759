package web

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vbonduro/treebank/internal/domain"
	"github.com/vbonduro/treebank/internal/service"
)

const (
	maxPhotoSize = 20 << 20 // 20 MB
	// maxFormOverhead leaves room for the text fields around the image part.
	maxFormOverhead = 1 << 20
)

// allowedImageTypes is the set of MIME types accepted for uploaded photos.
// net/http.DetectContentType handles JPEG, PNG, and GIF via magic-byte
// sniffing. WebP is detected separately because the WHATWG sniffing algorithm (and
// therefore the stdlib) does not include a WebP signature.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

type analyzeResponse struct {
	Analysis *service.AnalyzeOutcome `json:"analysis"`
	Tree     *domain.TreeRecord      `json:"tree,omitempty"`
}

// handleAnalyze accepts a multipart form with an "image" part plus the
// optional fields species, question, location, save, name and notes.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize+maxFormOverhead)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "image larger than 20 MB"})
			return
		}
		badRequest(w, "failed to parse form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		badRequest(w, "image file required")
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	imageData, err := io.ReadAll(io.LimitReader(file, maxPhotoSize+1))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read file"})
		s.logger.Error("read upload failed", "error", err)
		return
	}
	if len(imageData) > maxPhotoSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "image larger than 20 MB"})
		return
	}

	mimeType, ok := allowedImageMIME(imageData)
	if !ok {
		badRequest(w, "unsupported image format")
		return
	}

	save, err := formBool(r.FormValue("save"))
	if err != nil {
		badRequest(w, "save must be true or false")
		return
	}

	location := r.FormValue("location")
	outcome, err := s.service.Analyze(r.Context(), service.AnalyzeRequest{
		Image:      imageData,
		MIMEType:   mimeType,
		SpeciesKey: r.FormValue("species"),
		Question:   r.FormValue("question"),
		Location:   location,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := analyzeResponse{Analysis: outcome}
	if save {
		rec, err := s.service.SaveTree(r.Context(), service.SaveRequest{
			Outcome:  outcome,
			Image:    imageData,
			Name:     r.FormValue("name"),
			Location: location,
			Notes:    r.FormValue("notes"),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Tree = &rec
	}

	status := http.StatusOK
	if resp.Tree != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	reader, mimeType, err := s.service.TreePhoto(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer closeWithLog(reader, "photo reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write photo failed", "id", id, "error", err)
	}
}

func formBool(v string) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return false, nil
	}
	if v == "on" {
		return true, nil
	}
	return strconv.ParseBool(v)
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
