package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvalang/uvalens/internal/adapter/analyzer"
	"github.com/uvalang/uvalens/internal/adapter/analyzer/analyzertest"
	"github.com/uvalang/uvalens/internal/adapter/ristretto"
	"github.com/uvalang/uvalens/internal/config"
	"github.com/uvalang/uvalens/internal/domain/analysis"
	"github.com/uvalang/uvalens/internal/resilience"
)

// stubDispatcher records requests and answers through fn.
type stubDispatcher struct {
	mu       sync.Mutex
	requests []analyzer.Request
	handoffs []string
	fn       func(req analyzer.Request) (analysis.Result, error)
}

func (d *stubDispatcher) Dispatch(_ context.Context, req analyzer.Request) (analysis.Result, analyzer.DecodeStats, error) {
	content, _ := os.ReadFile(req.HandoffPath)
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.handoffs = append(d.handoffs, string(content))
	d.mu.Unlock()
	if d.fn == nil {
		return analysis.NewResult(), analyzer.DecodeStats{}, nil
	}
	res, err := d.fn(req)
	if err != nil {
		return analysis.NewResult(), analyzer.DecodeStats{}, err
	}
	return res, analyzer.DecodeStats{Elapsed: `"1ms"`}, nil
}

func (d *stubDispatcher) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Analyzer.TempDir = t.TempDir()
	cfg.Cache.Enabled = false
	return &cfg
}

func fooResult(path string) analysis.Result {
	res := analysis.NewResult()
	res.Declarations = append(res.Declarations, analysis.Declaration{
		Name: "foo", Kind: analysis.KindFunction,
		Location: &analysis.Location{File: path, Line: 0, Column: 3, Offset: 3},
	})
	res.References = append(res.References, analysis.Reference{
		Name: "foo", Kind: analysis.KindFunction,
		Location: analysis.Location{File: path, Line: 0, Column: 11, Offset: 11},
	})
	return res
}

func uvaDoc(path, text string) analysis.Document {
	return analysis.Document{Path: path, LanguageID: "uva", Text: text}
}

func TestAnalyze_OtherLanguageNeverDispatches(t *testing.T) {
	d := &stubDispatcher{fn: func(req analyzer.Request) (analysis.Result, error) { return fooResult(req.Path), nil }}
	svc := NewAnalyzerService(testConfig(t), d, nil, nil, nil, nil)

	res := svc.Analyze(context.Background(), analysis.Document{Path: "/w/main.go", LanguageID: "go", Text: "package main"})
	assert.True(t, res.IsEmpty())
	assert.NotNil(t, res.Declarations)
	assert.Zero(t, d.calls())
}

func TestAnalyze_WritesHandoffFile(t *testing.T) {
	cfg := testConfig(t)
	d := &stubDispatcher{fn: func(req analyzer.Request) (analysis.Result, error) { return fooResult(req.Path), nil }}
	svc := NewAnalyzerService(cfg, d, nil, nil, nil, nil)

	res := svc.Analyze(context.Background(), uvaDoc("/w/src/main.uva", "fn foo() { foo() }"))
	require.Len(t, res.Declarations, 1)

	require.Equal(t, 1, d.calls())
	assert.Equal(t, "/w/src/main.uva", d.requests[0].Path)
	assert.Equal(t, filepath.Join(cfg.Analyzer.TempDir, "main.uva"), d.requests[0].HandoffPath)
	assert.Equal(t, "fn foo() { foo() }", d.handoffs[0], "analyzer sees the unsaved buffer")
}

func TestAnalyze_FailureYieldsEmptyResult(t *testing.T) {
	d := &stubDispatcher{fn: func(analyzer.Request) (analysis.Result, error) {
		return analysis.Result{}, analysis.ErrProcessCrash
	}}
	svc := NewAnalyzerService(testConfig(t), d, nil, nil, nil, nil)

	res := svc.Analyze(context.Background(), uvaDoc("/w/main.uva", "fn foo() {}"))
	assert.True(t, res.IsEmpty())
	assert.NotNil(t, res.Tokens)
}

func TestAnalyze_CacheReturnsFreshResults(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	c, err := ristretto.New(1 << 20)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	d := &stubDispatcher{fn: func(req analyzer.Request) (analysis.Result, error) { return fooResult(req.Path), nil }}
	svc := NewAnalyzerService(cfg, d, nil, c, nil, nil)
	doc := uvaDoc("/w/main.uva", "fn foo() { foo() }")

	first := svc.Analyze(context.Background(), doc)
	first.Declarations[0].Name = "mutated"
	first.Declarations[0].Location.Offset = 99

	second := svc.Analyze(context.Background(), doc)
	assert.Equal(t, 1, d.calls(), "second analysis is a cache hit")
	assert.Equal(t, "foo", second.Declarations[0].Name)
	assert.Equal(t, uint(3), second.Declarations[0].Location.Offset)

	// New content misses.
	svc.Analyze(context.Background(), uvaDoc("/w/main.uva", "fn foo() {}"))
	assert.Equal(t, 2, d.calls())

	svc.Invalidate(context.Background(), doc)
	svc.Analyze(context.Background(), doc)
	assert.Equal(t, 3, d.calls())
}

func TestAnalyze_ConcurrentIdenticalRequestsCollapse(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	c, err := ristretto.New(1 << 20)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	release := make(chan struct{})
	d := &stubDispatcher{fn: func(req analyzer.Request) (analysis.Result, error) {
		<-release
		return fooResult(req.Path), nil
	}}
	svc := NewAnalyzerService(cfg, d, nil, c, nil, nil)
	doc := uvaDoc("/w/main.uva", "fn foo() { foo() }")

	var wg sync.WaitGroup
	results := make([]analysis.Result, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = svc.Analyze(context.Background(), doc)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, d.calls())
	for _, r := range results {
		require.Len(t, r.Declarations, 1)
	}
	results[0].Declarations[0].Name = "mutated"
	assert.Equal(t, "foo", results[1].Declarations[0].Name, "results are not shared")
}

func TestAnalyze_BreakerStopsDispatch(t *testing.T) {
	d := &stubDispatcher{fn: func(analyzer.Request) (analysis.Result, error) {
		return analysis.Result{}, analysis.ErrRequestTimeout
	}}
	svc := NewAnalyzerService(testConfig(t), d, nil, nil, resilience.NewBreaker(1, time.Minute), nil)

	svc.Analyze(context.Background(), uvaDoc("/w/main.uva", "a"))
	res := svc.Analyze(context.Background(), uvaDoc("/w/main.uva", "b"))

	assert.True(t, res.IsEmpty())
	assert.Equal(t, 1, d.calls())
	assert.Equal(t, "open", svc.BreakerState())
}

func TestDefinition(t *testing.T) {
	d := &stubDispatcher{fn: func(req analyzer.Request) (analysis.Result, error) {
		res := fooResult(req.Path)
		res.Declarations = append([]analysis.Declaration{{Name: "foo", Kind: analysis.KindFunction}}, res.Declarations...)
		return res, nil
	}}
	svc := NewAnalyzerService(testConfig(t), d, nil, nil, nil, nil)
	doc := uvaDoc("/w/main.uva", "fn foo() { foo() }")

	loc, err := svc.Definition(context.Background(), doc, 12)
	require.NoError(t, err)
	assert.Equal(t, analysis.Location{File: "/w/main.uva", Line: 0, Column: 3, Offset: 3, Length: 3}, loc)

	_, err = svc.Definition(context.Background(), doc, 9)
	require.ErrorIs(t, err, analysis.ErrNoDefinition, "no identifier under the cursor")

	_, err = svc.Definition(context.Background(), uvaDoc("/w/main.uva", "fn foo() { bar() }"), 12)
	require.ErrorIs(t, err, analysis.ErrNoDefinition)

	_, err = svc.Definition(context.Background(), analysis.Document{Path: "a.go", LanguageID: "go", Text: "foo"}, 1)
	require.ErrorIs(t, err, analysis.ErrUnsupportedLanguage)
}

func TestTokens_OneShot(t *testing.T) {
	cmd := analyzertest.Enable(t)
	tokens := analyzer.NewOneShot(cmd, analyzertest.OneShotArgs(), "", 5*time.Second, resilience.NewPool(1))
	svc := NewAnalyzerService(testConfig(t), &stubDispatcher{}, tokens, nil, nil, nil)

	res, ok := svc.Tokens(context.Background(), uvaDoc("/w/main.uva", "let x"))
	require.True(t, ok)
	require.Len(t, res.Tokens, 2)
	assert.Equal(t, "keyword", res.Tokens[0].Kind)

	res, ok = svc.Tokens(context.Background(), uvaDoc("/w/main.uva", analyzertest.Crash))
	assert.False(t, ok)
	assert.True(t, res.IsEmpty())

	res, ok = svc.Tokens(context.Background(), analysis.Document{Path: "a.go", LanguageID: "go", Text: "let x"})
	assert.True(t, ok)
	assert.True(t, res.IsEmpty())
}

func TestCacheKey(t *testing.T) {
	a := CacheKey(uvaDoc("/w/a.uva", "x"))
	assert.Equal(t, a, CacheKey(uvaDoc("/w/a.uva", "x")))
	assert.NotEqual(t, a, CacheKey(uvaDoc("/w/b.uva", "x")))
	assert.NotEqual(t, a, CacheKey(uvaDoc("/w/a.uva", "y")))
	assert.NotEqual(t, CacheKey(uvaDoc("/w/ab", "c")), CacheKey(uvaDoc("/w/a", "bc")))
}

func TestHandoffPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/tmp", "main.uva"), HandoffPath("/tmp", "/work/src/main.uva"))
	assert.Equal(t, HandoffPath("/tmp", "/a/main.uva"), HandoffPath("/tmp", "/b/main.uva"))
}

func nextEvent(t *testing.T, sup *analyzer.Supervisor, kind analysis.EventKind) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sup.Events():
			if ev.Kind == kind {
				return
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestAnalyze_RecoversAfterRestartWithDefaultBreaker(t *testing.T) {
	cfg := testConfig(t)
	sup, err := analyzer.NewSupervisor(analyzer.Options{
		Command:        analyzertest.Enable(t),
		Args:           analyzertest.ServerArgs(analyzer.FramingStream, ""),
		RequestTimeout: 2 * time.Second,
		StopTimeout:    time.Second,
		RestartBackoff: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })
	require.NoError(t, sup.Start(context.Background()))

	svc := NewAnalyzerService(cfg, sup, nil, nil, NewDispatchBreaker(cfg.Breaker), nil)
	ctx := context.Background()

	assert.True(t, svc.Analyze(ctx, uvaDoc("/w/main.uva", analyzertest.Crash)).IsEmpty())
	nextEvent(t, sup, analysis.EventProcessCrash)

	// Typing while the analyzer is down.
	for i := range cfg.Breaker.MaxFailures + 2 {
		res := svc.Analyze(ctx, uvaDoc("/w/main.uva", strings.Repeat("let a\n", i+1)))
		assert.True(t, res.IsEmpty())
	}
	assert.Equal(t, "closed", svc.BreakerState())

	nextEvent(t, sup, analysis.EventRestarted)
	require.Equal(t, analysis.ServerStatusReady, sup.Status())

	res := svc.Analyze(ctx, uvaDoc("/w/main.uva", "fn main() {}"))
	require.Len(t, res.Declarations, 1)
	assert.Equal(t, "main", res.Declarations[0].Name)
}
