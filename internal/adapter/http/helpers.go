package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/uvalang/uvalens/internal/domain/analysis"
	"github.com/uvalang/uvalens/internal/service"
)

// maxBodyBytes bounds request bodies; documents are sent inline.
const maxBodyBytes = 8 << 20

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

// errorResponse is the body of every failed request. Code is stable for
// hosts to branch on; Error is for humans.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "status", status, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: codeFor(status)})
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// domainErrors maps service errors to responses, first match wins.
var domainErrors = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrDocumentNotOpen, http.StatusNotFound, "document_not_open"},
	{analysis.ErrNoDefinition, http.StatusNotFound, "no_definition"},
	{analysis.ErrUnsupportedLanguage, http.StatusUnsupportedMediaType, "unsupported_language"},
	{analysis.ErrSpawnFailure, http.StatusServiceUnavailable, "spawn_failure"},
	{analysis.ErrNotRunning, http.StatusServiceUnavailable, "not_running"},
}

func writeDomainError(w http.ResponseWriter, err error) {
	for _, d := range domainErrors {
		if !errors.Is(err, d.err) {
			continue
		}
		msg := err.Error()
		if d.err == analysis.ErrSpawnFailure {
			msg = service.SpawnFailureMessage
		}
		writeJSON(w, d.status, errorResponse{Error: msg, Code: d.code})
		return
	}
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
