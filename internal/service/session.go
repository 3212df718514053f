package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cfotel "github.com/uvalang/uvalens/internal/adapter/otel"
	"github.com/uvalang/uvalens/internal/adapter/ws"
	"github.com/uvalang/uvalens/internal/domain/analysis"
	"github.com/uvalang/uvalens/internal/port/broadcast"
)

// SpawnFailureMessage is shown when the analyzer binary cannot be started.
const SpawnFailureMessage = "Unable to start analyzer server. Make sure uvalang-analyzer is installed " +
	"and is in your PATH. If you have just installed it, you may need to restart your editor or your computer."

// ErrDocumentNotOpen is returned for operations on a path the host never opened.
var ErrDocumentNotOpen = errors.New("document not open")

// Server is the analyzer lifecycle as seen by the session.
// *analyzer.Supervisor implements it.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Retry(ctx context.Context) error
	Info() analysis.ServerInfo
	Events() <-chan analysis.Event
}

// SessionStatus is the snapshot served to the host.
type SessionStatus struct {
	Server    analysis.ServerInfo `json:"server"`
	Mode      string              `json:"mode"`
	Breaker   string              `json:"breaker"`
	Focused   string              `json:"focused,omitempty"`
	Documents int                 `json:"documents"`
}

// Session drives analyses for the documents an editor host has open. It
// analyzes the focused document on open, change, focus change and on-disk
// changes, polls its tokens, and relays analyzer events as notifications.
type Session struct {
	analyzer  *AnalyzerService
	projector *Projector
	hub       broadcast.Broadcaster
	server    Server
	metrics   *cfotel.Metrics
	mode      string
	poll      time.Duration

	mu        sync.Mutex
	docs      map[string]analysis.Document
	focused   string
	tokenKeys map[string]string // path -> cache key of the last broadcast tokens
}

// NewSession creates a session. server may be nil when the analyzer runs
// in one-shot mode.
func NewSession(a *AnalyzerService, p *Projector, hub broadcast.Broadcaster, server Server, mode string, poll time.Duration, m *cfotel.Metrics) *Session {
	if hub == nil {
		hub = broadcast.Discard{}
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Session{
		analyzer:  a,
		projector: p,
		hub:       hub,
		server:    server,
		metrics:   m,
		mode:      mode,
		poll:      poll,
		docs:      make(map[string]analysis.Document),
		tokenKeys: make(map[string]string),
	}
}

// Open registers doc, or updates it when already open. The first opened
// document becomes focused. The projection of doc is returned.
func (s *Session) Open(ctx context.Context, doc analysis.Document) analysis.Projection {
	s.mu.Lock()
	_, known := s.docs[doc.Path]
	s.docs[doc.Path] = doc
	if s.focused == "" {
		s.focused = doc.Path
	}
	s.mu.Unlock()

	if known {
		return s.Change(ctx, doc)
	}
	return s.refresh(ctx, doc)
}

// Change records new content for an open document and re-analyzes it if it
// is focused.
func (s *Session) Change(ctx context.Context, doc analysis.Document) analysis.Projection {
	s.mu.Lock()
	s.docs[doc.Path] = doc
	focused := s.focused == doc.Path
	s.mu.Unlock()

	if !focused {
		return s.projector.Project(analysis.NewResult(), doc)
	}
	return s.refresh(ctx, doc)
}

// Close forgets a document. Closing the focused document clears the focus.
func (s *Session) Close(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, path)
	delete(s.tokenKeys, path)
	if s.focused == path {
		s.focused = ""
	}
}

// Focus makes an open document the active one and re-analyzes it.
func (s *Session) Focus(ctx context.Context, path string) (analysis.Projection, error) {
	s.mu.Lock()
	doc, ok := s.docs[path]
	if ok {
		s.focused = path
	}
	s.mu.Unlock()

	if !ok {
		return analysis.Projection{}, fmt.Errorf("%w: %s", ErrDocumentNotOpen, path)
	}
	return s.refresh(ctx, doc), nil
}

// Document returns the open document at path.
func (s *Session) Document(path string) (analysis.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[path]
	return doc, ok
}

// FileChanged handles an on-disk change. Analyses may reference other
// files, so the focused document is re-analyzed bypassing the cache.
func (s *Session) FileChanged(ctx context.Context, path string) {
	doc, ok := s.focusedDocument()
	if !ok || !s.analyzer.Supports(doc.LanguageID) {
		return
	}
	slog.DebugContext(ctx, "file changed on disk", "path", path, "focused", doc.Path)
	s.analyzer.Invalidate(ctx, doc)
	s.refresh(ctx, doc)
}

// Retry relaunches the analyzer after a spawn failure.
func (s *Session) Retry(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Retry(ctx)
	s.broadcastStatus(ctx)
	if err != nil {
		s.notifySpawnFailure(ctx, err)
		return err
	}
	if doc, ok := s.focusedDocument(); ok {
		s.refresh(ctx, doc)
	}
	return nil
}

// Status returns a snapshot for the host.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	st := SessionStatus{Mode: s.mode, Focused: s.focused, Documents: len(s.docs)}
	s.mu.Unlock()
	st.Breaker = s.analyzer.BreakerState()
	st.Server = s.serverInfo()
	return st
}

// Run starts the analyzer, then relays its events and polls tokens of the
// focused document until ctx is done. The analyzer is stopped on return.
func (s *Session) Run(ctx context.Context) error {
	var events <-chan analysis.Event
	if s.server != nil {
		events = s.server.Events()
		if err := s.server.Start(ctx); err != nil {
			slog.Error("analyzer server failed to start", "error", err)
			s.notifySpawnFailure(ctx, err)
		}
		s.broadcastStatus(ctx)
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.server == nil {
				return nil
			}
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return s.server.Stop(stopCtx)
		case ev := <-events:
			s.handleEvent(ctx, ev)
		case <-ticker.C:
			s.pollTokens(ctx)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev analysis.Event) {
	s.metrics.RecordEvent(ctx, string(ev.Kind))
	switch ev.Kind {
	case analysis.EventSpawnFailure:
		s.notifySpawnFailure(ctx, ev.Err)
	case analysis.EventProcessCrash:
		s.notify(ctx, ws.LevelError, eventMessage(ev))
	case analysis.EventProtocolError:
		s.notify(ctx, ws.LevelWarning, eventMessage(ev))
	case analysis.EventRestarted:
		slog.Info("analyzer server restarted")
		if doc, ok := s.focusedDocument(); ok {
			defer s.refresh(ctx, doc)
		}
	}
	s.broadcastStatus(ctx)
}

// eventMessage is the notification text for a crash or protocol error.
func eventMessage(ev analysis.Event) string {
	if ev.Restarting {
		return ev.Message() + ". The server will be restarted."
	}
	return ev.Message()
}

func (s *Session) pollTokens(ctx context.Context) {
	doc, ok := s.focusedDocument()
	if !ok || !s.analyzer.Supports(doc.LanguageID) {
		return
	}
	key := CacheKey(doc)
	s.mu.Lock()
	unchanged := s.tokenKeys[doc.Path] == key
	s.mu.Unlock()
	if unchanged {
		return
	}

	res, ok := s.analyzer.Tokens(ctx, doc)
	if !ok {
		// Keep the last good tokens on the host and try again next tick.
		return
	}
	s.mu.Lock()
	s.tokenKeys[doc.Path] = key
	s.mu.Unlock()
	s.hub.BroadcastEvent(ctx, ws.EventTokens, ws.TokensEvent{Path: doc.Path, Tokens: res.Tokens})
}

// refresh analyzes doc and broadcasts its decorations and diagnostics.
func (s *Session) refresh(ctx context.Context, doc analysis.Document) analysis.Projection {
	res := s.analyzer.Analyze(ctx, doc)
	proj := s.projector.Project(res, doc)
	if !s.analyzer.Supports(doc.LanguageID) {
		return proj
	}
	s.hub.BroadcastEvent(ctx, ws.EventDecorations, ws.DecorationsEvent{
		Path:    doc.Path,
		Version: doc.Version,
		Groups:  proj.Decorations,
	})
	s.hub.BroadcastEvent(ctx, ws.EventDiagnostics, ws.DiagnosticsEvent{
		Path:        doc.Path,
		Diagnostics: proj.Diagnostics,
	})
	return proj
}

func (s *Session) focusedDocument() (analysis.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.focused == "" {
		return analysis.Document{}, false
	}
	doc, ok := s.docs[s.focused]
	return doc, ok
}

func (s *Session) serverInfo() analysis.ServerInfo {
	if s.server == nil {
		return analysis.ServerInfo{Status: analysis.ServerStatusReady}
	}
	return s.server.Info()
}

func (s *Session) notifySpawnFailure(ctx context.Context, err error) {
	slog.WarnContext(ctx, "analyzer spawn failure", "error", err)
	s.hub.BroadcastEvent(ctx, ws.EventNotification, ws.NotificationEvent{
		Level:   ws.LevelError,
		Message: SpawnFailureMessage,
		Actions: []string{ws.ActionRetry},
	})
}

func (s *Session) notify(ctx context.Context, level, msg string) {
	s.hub.BroadcastEvent(ctx, ws.EventNotification, ws.NotificationEvent{Level: level, Message: msg})
}

func (s *Session) broadcastStatus(ctx context.Context) {
	s.hub.BroadcastEvent(ctx, ws.EventServerStatus, ws.ServerStatusEvent{ServerInfo: s.serverInfo()})
}
