package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/uvalang/uvalens/internal/adapter/analyzer"
	cfotel "github.com/uvalang/uvalens/internal/adapter/otel"
	"github.com/uvalang/uvalens/internal/config"
	"github.com/uvalang/uvalens/internal/domain/analysis"
	"github.com/uvalang/uvalens/internal/logger"
	"github.com/uvalang/uvalens/internal/port/cache"
	"github.com/uvalang/uvalens/internal/resilience"
)

// TokenRunner produces highlighting tokens for a document.
type TokenRunner interface {
	Tokens(ctx context.Context, doc analysis.Document) (analysis.Result, error)
}

// AnalyzerService is the client facade: it filters documents by language,
// writes the handoff file, dispatches to the analyzer and absorbs failures
// into empty results. Failures reach the host through supervisor events.
type AnalyzerService struct {
	cfg        config.Analyzer
	cacheCfg   config.Cache
	dispatcher analyzer.Dispatcher
	tokens     TokenRunner
	cache      cache.Cache
	breaker    *resilience.Breaker
	metrics    *cfotel.Metrics

	group   singleflight.Group
	handoff sync.Map // handoff path -> *sync.Mutex
}

// NewDispatchBreaker builds the breaker guarding analyzer dispatch. A
// request that arrives while the analyzer is restarting says nothing about
// the health of the next instance, so ErrNotRunning does not count.
func NewDispatchBreaker(cfg config.Breaker) *resilience.Breaker {
	return resilience.NewBreaker(cfg.MaxFailures, cfg.Timeout, analysis.ErrNotRunning)
}

// NewAnalyzerService creates the facade. tokens, c, b and m may be nil.
func NewAnalyzerService(cfg *config.Config, d analyzer.Dispatcher, tokens TokenRunner, c cache.Cache, b *resilience.Breaker, m *cfotel.Metrics) *AnalyzerService {
	s := &AnalyzerService{
		cfg:        cfg.Analyzer,
		cacheCfg:   cfg.Cache,
		dispatcher: d,
		tokens:     tokens,
		breaker:    b,
		metrics:    m,
	}
	if cfg.Cache.Enabled {
		s.cache = c
	}
	if s.cfg.TempDir == "" {
		s.cfg.TempDir = os.TempDir()
	}
	return s
}

// Supports reports whether documents of languageID are analyzed.
func (s *AnalyzerService) Supports(languageID string) bool {
	return languageID == s.cfg.LanguageID
}

// Analyze returns the analysis of doc. It never fails: unsupported
// documents and every analyzer failure yield an empty result.
func (s *AnalyzerService) Analyze(ctx context.Context, doc analysis.Document) analysis.Result {
	if !s.Supports(doc.LanguageID) {
		return analysis.NewResult()
	}
	ctx, reqID := logger.EnsureRequestID(ctx)
	ctx, span := cfotel.StartAnalyzeSpan(ctx, doc.Path, doc.LanguageID)
	defer span.End()

	key := CacheKey(doc)
	if res, ok := s.cached(ctx, key); ok {
		return res
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.dispatch(ctx, key, doc)
	})
	if err != nil {
		slog.WarnContext(ctx, "analysis failed", "path", doc.Path, "error", err)
		span.RecordError(err)
		return analysis.NewResult()
	}

	// Callers sharing a flight each get their own decode.
	res, _, err := analyzer.Decode(v.([]byte))
	if err != nil {
		slog.ErrorContext(ctx, "re-decode of encoded result failed", "path", doc.Path, "error", err)
		return analysis.NewResult()
	}
	slog.DebugContext(ctx, "analysis done", "path", doc.Path, "request_id", reqID, "shared", shared,
		"declarations", len(res.Declarations), "references", len(res.References),
		"warnings", len(res.Warnings), "errors", len(res.Errors))
	return res
}

func (s *AnalyzerService) cached(ctx context.Context, key string) (analysis.Result, bool) {
	if s.cache == nil {
		return analysis.Result{}, false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "result cache get failed", "error", err)
		return analysis.Result{}, false
	}
	if !ok {
		return analysis.Result{}, false
	}
	res, _, err := analyzer.Decode(data)
	if err != nil {
		_ = s.cache.Delete(ctx, key)
		return analysis.Result{}, false
	}
	s.metrics.RecordCacheHit(ctx)
	return res, true
}

// dispatch runs one analyzer round trip and returns the encoded result.
func (s *AnalyzerService) dispatch(ctx context.Context, key string, doc analysis.Document) ([]byte, error) {
	handoff := HandoffPath(s.cfg.TempDir, doc.Path)
	mu, _ := s.handoff.LoadOrStore(handoff, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	if err := os.WriteFile(handoff, []byte(doc.Text), 0o600); err != nil {
		return nil, fmt.Errorf("write handoff %s: %w", handoff, err)
	}

	ctx, span := cfotel.StartDispatchSpan(ctx, s.cfg.Mode, handoff)
	defer span.End()

	var (
		res   analysis.Result
		stats analyzer.DecodeStats
	)
	started := time.Now()
	call := func() error {
		var err error
		res, stats, err = s.dispatcher.Dispatch(ctx, analyzer.Request{Path: doc.Path, HandoffPath: handoff})
		return err
	}
	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(call)
	} else {
		err = call()
	}
	elapsed := time.Since(started)
	s.metrics.RecordAnalysis(ctx, s.cfg.Mode, elapsed.Seconds(), stats.Skipped, err != nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if stats.Skipped > 0 {
		slog.WarnContext(ctx, "analysis skipped malformed elements", "path", doc.Path, "skipped", stats.Skipped)
	}
	slog.DebugContext(ctx, "analyzer round trip", "path", doc.Path,
		"elapsed_ms", elapsed.Milliseconds(), "reported_elapsed", stats.Elapsed)

	payload, err := analyzer.EncodeResult(res)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, payload, s.cacheCfg.TTL); err != nil {
			slog.WarnContext(ctx, "result cache set failed", "error", err)
		}
	}
	return payload, nil
}

// Invalidate drops the cached analysis of doc.
func (s *AnalyzerService) Invalidate(ctx context.Context, doc analysis.Document) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, CacheKey(doc)); err != nil {
		slog.WarnContext(ctx, "result cache delete failed", "error", err)
	}
}

// Tokens returns the highlighting tokens of doc through the one-shot
// runner. Failures yield an empty result and ok is false; an unsupported
// document is not a failure.
func (s *AnalyzerService) Tokens(ctx context.Context, doc analysis.Document) (res analysis.Result, ok bool) {
	if !s.Supports(doc.LanguageID) || s.tokens == nil {
		return analysis.NewResult(), true
	}
	ctx, _ = logger.EnsureRequestID(ctx)
	ctx, span := cfotel.StartTokensSpan(ctx, doc.Path)
	defer span.End()

	res, err := s.tokens.Tokens(ctx, doc)
	if err != nil {
		slog.WarnContext(ctx, "token request failed", "path", doc.Path, "error", err)
		span.RecordError(err)
		return analysis.NewResult(), false
	}
	return res, true
}

// Definition resolves the identifier at offset to the location of its first
// declaration. The returned location's Length covers the declared name.
func (s *AnalyzerService) Definition(ctx context.Context, doc analysis.Document, offset int) (analysis.Location, error) {
	if !s.Supports(doc.LanguageID) {
		return analysis.Location{}, fmt.Errorf("%w: %s", analysis.ErrUnsupportedLanguage, doc.LanguageID)
	}
	word, _, ok := analysis.WordAt(doc.Text, offset)
	if !ok {
		return analysis.Location{}, analysis.ErrNoDefinition
	}
	res := s.Analyze(ctx, doc)
	decl, ok := res.FindDeclaration(word)
	if !ok {
		return analysis.Location{}, fmt.Errorf("%w: %s", analysis.ErrNoDefinition, word)
	}
	loc := *decl.Location
	loc.Length = uint(len(decl.Name))
	return loc, nil
}

// BreakerState reports the dispatch circuit breaker state.
func (s *AnalyzerService) BreakerState() string {
	if s.breaker == nil {
		return "disabled"
	}
	return s.breaker.State()
}

// CacheKey identifies an analysis by document path and content.
func CacheKey(doc analysis.Document) string {
	h := sha256.New()
	h.Write([]byte(doc.Path))
	h.Write([]byte{0})
	h.Write([]byte(doc.Text))
	return "result." + hex.EncodeToString(h.Sum(nil))
}

// HandoffPath is the temporary file the analyzer reads docPath's content
// from. Documents with equal base names share it.
func HandoffPath(tempDir, docPath string) string {
	return filepath.Join(tempDir, filepath.Base(docPath))
}
