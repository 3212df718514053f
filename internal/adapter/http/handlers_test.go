package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvalang/uvalens/internal/adapter/analyzer"
	"github.com/uvalang/uvalens/internal/adapter/analyzer/analyzertest"
	cfhttp "github.com/uvalang/uvalens/internal/adapter/http"
	"github.com/uvalang/uvalens/internal/adapter/ws"
	"github.com/uvalang/uvalens/internal/config"
	"github.com/uvalang/uvalens/internal/domain/analysis"
	"github.com/uvalang/uvalens/internal/service"
)

func TestMain(m *testing.M) {
	analyzertest.RunIfHelper()
	os.Exit(m.Run())
}

// toyDispatcher answers every request with the fake analyzer's analysis of
// the handoff file.
type toyDispatcher struct{}

func (toyDispatcher) Dispatch(_ context.Context, req analyzer.Request) (analysis.Result, analyzer.DecodeStats, error) {
	text, err := os.ReadFile(req.HandoffPath)
	if err != nil {
		return analysis.NewResult(), analyzer.DecodeStats{}, err
	}
	return analyzertest.Analyze(req.Path, string(text)), analyzer.DecodeStats{}, nil
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Defaults()
	cfg.Analyzer.TempDir = t.TempDir()
	cfg.Cache.Enabled = false
	cfg.Server.CORSOrigin = "http://editor.local"

	tokens := analyzer.NewOneShot(analyzertest.Enable(t), analyzertest.OneShotArgs(), "", 2*time.Second, nil)
	svc := service.NewAnalyzerService(&cfg, toyDispatcher{}, tokens, nil, nil, nil)
	proj := service.ProjectorFromConfig(cfg.Projection)
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	sess := service.NewSession(svc, proj, hub, nil, "server", time.Second, nil)

	return cfhttp.NewRouter(cfg.Server, &cfhttp.Handlers{
		Session:   sess,
		Analyzer:  svc,
		Projector: proj,
		Hub:       hub,
		Version:   "test",
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func uvaDoc(path, text string) analysis.Document {
	return analysis.Document{Path: path, LanguageID: "uva", Text: text}
}

func TestHealth(t *testing.T) {
	rec := do(t, newRouter(t), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestDocumentsLifecycle(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, http.MethodPost, "/api/v1/documents", uvaDoc("/w/main.uva", "fn foo() { foo() }"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	proj := decode[analysis.Projection](t, rec)
	require.Len(t, proj.Decorations, 3)
	for _, g := range proj.Decorations {
		if g.Kind == analysis.KindFunction {
			assert.Equal(t, []analysis.Span{{Start: 3, End: 6}, {Start: 11, End: 14}}, g.Spans)
		}
	}

	rec = do(t, h, http.MethodGet, "/api/v1/status", nil)
	st := decode[service.SessionStatus](t, rec)
	assert.Equal(t, "/w/main.uva", st.Focused)
	assert.Equal(t, 1, st.Documents)

	rec = do(t, h, http.MethodDelete, "/api/v1/documents?path=/w/main.uva", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/documents?path=/w/main.uva", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenDocumentValidation(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, http.MethodPost, "/api/v1/documents", analysis.Document{Path: "/w/a.uva"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "language_id is required")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFocusUnknownDocument(t *testing.T) {
	rec := do(t, newRouter(t), http.MethodPost, "/api/v1/focus", map[string]string{"path": "/w/missing.uva"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "document_not_open", errorCode(t, rec))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[struct {
		Code string `json:"code"`
	}](t, rec).Code
}

func TestAnalyzeStateless(t *testing.T) {
	h := newRouter(t)
	rec := do(t, h, http.MethodPost, "/api/v1/analyze", uvaDoc("/w/a.uva", "let x"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Result     analysis.Result     `json:"result"`
		Projection analysis.Projection `json:"projection"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Result.Declarations, 1)
	assert.Equal(t, "x", body.Result.Declarations[0].Name)
	require.Len(t, body.Projection.Diagnostics["/w/a.uva"], 1)
	assert.Equal(t, analysis.SeverityWarning, body.Projection.Diagnostics["/w/a.uva"][0].Severity)

	st := decode[service.SessionStatus](t, do(t, h, http.MethodGet, "/api/v1/status", nil))
	assert.Zero(t, st.Documents, "stateless analysis does not open documents")
}

func TestDefinition(t *testing.T) {
	h := newRouter(t)
	doc := uvaDoc("/w/a.uva", "fn foo() { foo() }")

	rec := do(t, h, http.MethodPost, "/api/v1/definition", map[string]any{"document": doc, "offset": 12})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loc := decode[analysis.Location](t, rec)
	assert.Equal(t, uint(3), loc.Offset)
	assert.Equal(t, uint(3), loc.Length)

	rec = do(t, h, http.MethodPost, "/api/v1/definition", map[string]any{"document": doc, "offset": 9})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_definition", errorCode(t, rec))

	rec = do(t, h, http.MethodPost, "/api/v1/definition", map[string]any{"document": doc, "offset": 999})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	md := analysis.Document{Path: "/w/a.md", LanguageID: "markdown", Text: "foo"}
	rec = do(t, h, http.MethodPost, "/api/v1/definition", map[string]any{"document": md, "offset": 1})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "unsupported_language", errorCode(t, rec))
}

func TestTokens(t *testing.T) {
	rec := do(t, newRouter(t), http.MethodPost, "/api/v1/tokens", uvaDoc("/w/a.uva", "let x"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Tokens []analysis.Token `json:"tokens"`
	}](t, rec)
	assert.Len(t, body.Tokens, 2)
}

func TestRetryWithoutServer(t *testing.T) {
	rec := do(t, newRouter(t), http.MethodPost, "/api/v1/retry", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsDisabled(t *testing.T) {
	rec := do(t, newRouter(t), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/documents", http.NoBody)
	req.Header.Set("Origin", "http://editor.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	newRouter(t).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://editor.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsOtherOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	newRouter(t).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", http.NoBody)
	req.Header.Set("X-Request-ID", "host-42")
	rec := httptest.NewRecorder()
	newRouter(t).ServeHTTP(rec, req)
	assert.Equal(t, "host-42", rec.Header().Get("X-Request-ID"))
}
