package http

import (
	"net/http"

	"github.com/uvalang/uvalens/internal/adapter/ws"
	"github.com/uvalang/uvalens/internal/domain/analysis"
	"github.com/uvalang/uvalens/internal/service"
)

// Handlers holds the services the bridge exposes.
type Handlers struct {
	Session   *service.Session
	Analyzer  *service.AnalyzerService
	Projector *service.Projector
	Hub       *ws.Hub
	Version   string
}

type focusRequest struct {
	Path string `json:"path"`
}

type definitionRequest struct {
	Document analysis.Document `json:"document"`
	Offset   int               `json:"offset"`
}

type analyzeResponse struct {
	Result     analysis.Result     `json:"result"`
	Projection analysis.Projection `json:"projection"`
}

type tokensResponse struct {
	Path   string           `json:"path"`
	Tokens []analysis.Token `json:"tokens"`
}

type healthResponse struct {
	Status  string                `json:"status"`
	Version string                `json:"version"`
	Server  analysis.ServerStatus `json:"server"`
	Clients int                   `json:"clients"`
}

func readDocument(w http.ResponseWriter, r *http.Request) (analysis.Document, bool) {
	doc, ok := readJSON[analysis.Document](w, r)
	if !ok {
		return doc, false
	}
	if !requireField(w, doc.Path, "path") || !requireField(w, doc.LanguageID, "language_id") {
		return doc, false
	}
	return doc, true
}

// Health handles GET /health. It reports ok even while the analyzer is
// down; the server status tells the host why results are empty.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	st := h.Session.Status()
	clients := 0
	if h.Hub != nil {
		clients = h.Hub.ConnectionCount()
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: h.Version,
		Server:  st.Server.Status,
		Clients: clients,
	})
}

// OpenDocument handles POST /api/v1/documents. Reopening an open path
// updates its content.
func (h *Handlers) OpenDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := readDocument(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Session.Open(r.Context(), doc))
}

// CloseDocument handles DELETE /api/v1/documents?path=.
func (h *Handlers) CloseDocument(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if !requireField(w, path, "path") {
		return
	}
	if _, ok := h.Session.Document(path); !ok {
		writeDomainError(w, service.ErrDocumentNotOpen)
		return
	}
	h.Session.Close(path)
	w.WriteHeader(http.StatusNoContent)
}

// Focus handles POST /api/v1/focus.
func (h *Handlers) Focus(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[focusRequest](w, r)
	if !ok || !requireField(w, req.Path, "path") {
		return
	}
	proj, err := h.Session.Focus(r.Context(), req.Path)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// Analyze handles POST /api/v1/analyze: a stateless analysis of the posted
// document, outside the session.
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	doc, ok := readDocument(w, r)
	if !ok {
		return
	}
	res := h.Analyzer.Analyze(r.Context(), doc)
	writeJSON(w, http.StatusOK, analyzeResponse{Result: res, Projection: h.Projector.Project(res, doc)})
}

// Definition handles POST /api/v1/definition.
func (h *Handlers) Definition(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[definitionRequest](w, r)
	if !ok || !requireField(w, req.Document.Path, "document.path") {
		return
	}
	if req.Offset < 0 || req.Offset > len(req.Document.Text) {
		writeError(w, http.StatusBadRequest, "offset out of range")
		return
	}
	loc, err := h.Analyzer.Definition(r.Context(), req.Document, req.Offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// Tokens handles POST /api/v1/tokens.
func (h *Handlers) Tokens(w http.ResponseWriter, r *http.Request) {
	doc, ok := readDocument(w, r)
	if !ok {
		return
	}
	res, ok := h.Analyzer.Tokens(r.Context(), doc)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "token request failed")
		return
	}
	writeJSON(w, http.StatusOK, tokensResponse{Path: doc.Path, Tokens: res.Tokens})
}

// Retry handles POST /api/v1/retry, the action offered with the spawn
// failure notification.
func (h *Handlers) Retry(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Retry(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Session.Status())
}

// Status handles GET /api/v1/status.
func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.Status())
}
