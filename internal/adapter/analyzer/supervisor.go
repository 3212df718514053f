package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/uvalang/uvalens/internal/domain/analysis"
)

// Dispatcher runs one analysis request and returns the raw payload decoded
// into a Result.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (analysis.Result, DecodeStats, error)
}

// Restart policies.
const (
	RestartConstant    = "constant"
	RestartExponential = "exponential"
)

// Options configure a Supervisor.
type Options struct {
	Command        string
	Args           []string
	Dir            string
	Framing        Framing
	RequestTimeout time.Duration
	StopTimeout    time.Duration
	RestartPolicy  string
	RestartBackoff time.Duration
	MaxBackoff     time.Duration
	EventBuffer    int
	Stderr         io.Writer
}

func (o *Options) defaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.RestartBackoff <= 0 {
		o.RestartBackoff = 3 * time.Second
	}
	if o.MaxBackoff < o.RestartBackoff {
		o.MaxBackoff = o.RestartBackoff
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 16
	}
}

// newBackOff builds the restart delay policy. Neither policy gives up.
func newBackOff(o Options) backoff.BackOff {
	if o.RestartPolicy == RestartExponential {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = o.RestartBackoff
		b.MaxInterval = o.MaxBackoff
		b.Multiplier = 2
		b.RandomizationFactor = 0.1
		return b
	}
	return backoff.NewConstantBackOff(o.RestartBackoff)
}

// Supervisor owns the single live analyzer instance, restarts it after a
// crash and serializes requests to it.
type Supervisor struct {
	opts  Options
	codec Codec

	dispatchMu sync.Mutex // serializes Dispatch

	mu       sync.Mutex // guards the fields below
	proc     *Process
	status   analysis.ServerStatus
	restarts int
	lastErr  error
	stopped  bool
	bo       backoff.BackOff

	events  chan analysis.Event
	dropped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor. Nothing is spawned until Start.
func NewSupervisor(opts Options) (*Supervisor, error) {
	opts.defaults()
	codec, err := NewCodec(opts.Framing)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		opts:   opts,
		codec:  codec,
		status: analysis.ServerStatusStopped,
		bo:     newBackOff(opts),
		events: make(chan analysis.Event, opts.EventBuffer),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Events returns the persistent event channel. It stays valid across
// restarts and is never closed.
func (s *Supervisor) Events() <-chan analysis.Event {
	return s.events
}

// DroppedEvents returns how many events were discarded on a full channel.
func (s *Supervisor) DroppedEvents() int64 {
	return s.dropped.Load()
}

func (s *Supervisor) emit(ev analysis.Event) {
	ev.At = time.Now()
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		slog.Warn("analyzer event dropped", "kind", ev.Kind)
	}
}

// Start launches the first instance. A spawn failure is returned, not
// retried: the host decides whether to retry. A manual start also resets
// the restart backoff.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil && s.proc.Running() {
		return nil
	}
	if s.stopped {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.stopped = false
	}
	if err := s.launchLocked(ctx); err != nil {
		return err
	}
	s.bo.Reset()
	return nil
}

// launchLocked replaces the current instance with a fresh one. The backoff
// is left alone: an instance that starts and then crashes right away must
// keep backing off, so it is reset only once the instance has answered.
func (s *Supervisor) launchLocked(ctx context.Context) error {
	s.status = analysis.ServerStatusStarting
	started := time.Now()

	var p *Process
	p = NewProcess(s.opts.Command, s.opts.Args, s.opts.Dir, s.codec, func(code int, err error) {
		s.handleExit(p, code, err)
	})
	if s.opts.Stderr != nil {
		p.SetStderr(s.opts.Stderr)
	}

	if err := p.Launch(ctx); err != nil {
		s.status = analysis.ServerStatusFailed
		s.lastErr = err
		s.proc = nil
		return err
	}

	s.proc = p
	s.status = analysis.ServerStatusReady
	slog.Info("analyzer server started", "pid", p.PID(), "command", s.opts.Command,
		"elapsed_ms", time.Since(started).Milliseconds())
	return nil
}

// handleExit runs on the waiter goroutine of a crashed instance.
func (s *Supervisor) handleExit(p *Process, code int, err error) {
	s.mu.Lock()
	if s.proc != p || s.stopped {
		s.mu.Unlock()
		return
	}
	s.proc = nil
	s.status = analysis.ServerStatusRestarting
	crash := fmt.Errorf("%w: exited with code %d", analysis.ErrProcessCrash, code)
	if err != nil && code < 0 {
		crash = fmt.Errorf("%w: %w", analysis.ErrProcessCrash, err)
	}
	s.lastErr = crash
	s.emit(analysis.Event{Kind: analysis.EventProcessCrash, Err: crash, ExitCode: code, Restarting: true})
	s.scheduleRestartLocked()
	s.mu.Unlock()
}

// scheduleRestartLocked relaunches after the backoff delay, retrying
// forever until the supervisor is stopped.
func (s *Supervisor) scheduleRestartLocked() {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			s.mu.Lock()
			delay := s.bo.NextBackOff()
			s.mu.Unlock()
			if delay == backoff.Stop {
				delay = s.opts.MaxBackoff
			}

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}

			s.mu.Lock()
			if s.stopped {
				s.mu.Unlock()
				return
			}
			if s.proc != nil {
				// A manual Retry got there first.
				s.mu.Unlock()
				return
			}
			err := s.launchLocked(ctx)
			if err == nil {
				s.restarts++
			}
			s.mu.Unlock()

			if err == nil {
				s.emit(analysis.Event{Kind: analysis.EventRestarted})
				return
			}
			slog.Error("analyzer restart failed", "error", err)
			s.emit(analysis.Event{Kind: analysis.EventSpawnFailure, Err: err, Restarting: true})
		}
	}()
}

// recycle discards an instance whose stream can no longer be trusted and
// schedules a fresh one. Close suppresses the crash event. It reports false
// when p was already replaced or the supervisor is stopped.
func (s *Supervisor) recycle(p *Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != p || s.stopped {
		return false
	}
	s.proc = nil
	s.status = analysis.ServerStatusRestarting
	go func() { _ = p.Close(s.opts.StopTimeout) }()
	s.scheduleRestartLocked()
	return true
}

// protocolError reports err, recycling p first when restart is set.
func (s *Supervisor) protocolError(p *Process, err error, restart bool) {
	if restart && !s.recycle(p) {
		return
	}
	s.emit(analysis.Event{Kind: analysis.EventProtocolError, Err: err, Restarting: restart})
}

// Dispatch sends one request and waits for its response. Only one request
// is in flight at a time; status queries do not wait for it.
func (s *Supervisor) Dispatch(ctx context.Context, req Request) (analysis.Result, DecodeStats, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil || !p.Running() {
		return analysis.NewResult(), DecodeStats{}, analysis.ErrNotRunning
	}

	if n := p.Discard(); n > 0 {
		slog.Warn("analyzer: discarded unsolicited responses", "count", n)
	}

	started := time.Now()
	if err := p.Send(req); err != nil {
		s.protocolError(p, err, true)
		return analysis.NewResult(), DecodeStats{}, fmt.Errorf("%w: send: %w", analysis.ErrProtocol, err)
	}

	rctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	payload, err := p.Next(rctx)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		slog.Warn("analyzer request timed out, killing instance", "path", req.Path, "timeout", s.opts.RequestTimeout)
		p.Kill()
		return analysis.NewResult(), DecodeStats{}, fmt.Errorf("%w after %s", analysis.ErrRequestTimeout, s.opts.RequestTimeout)
	case ctx.Err() != nil:
		// The caller gave up; the late response would desynchronize the stream.
		s.recycle(p)
		return analysis.NewResult(), DecodeStats{}, ctx.Err()
	case errors.Is(err, analysis.ErrProcessCrash):
		return analysis.NewResult(), DecodeStats{}, err
	default:
		s.protocolError(p, err, true)
		return analysis.NewResult(), DecodeStats{}, err
	}

	// The frame was read whole, so a body that fails to decode leaves the
	// stream usable and the instance is kept.
	res, stats, err := Decode(payload)
	if err != nil {
		s.protocolError(p, err, false)
		return analysis.NewResult(), stats, err
	}

	s.mu.Lock()
	if s.proc == p {
		s.bo.Reset()
	}
	s.mu.Unlock()
	slog.Debug("analyzer response", "path", req.Path, "elapsed_ms", time.Since(started).Milliseconds(),
		"reported_elapsed", stats.Elapsed, "skipped", stats.Skipped)
	return res, stats, nil
}

// Retry relaunches immediately if no instance is running.
func (s *Supervisor) Retry(ctx context.Context) error {
	return s.Start(ctx)
}

// Status returns the lifecycle state of the analyzer.
func (s *Supervisor) Status() analysis.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PID returns the pid of the live instance, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.PID()
}

// Info summarizes the supervisor state.
func (s *Supervisor) Info() analysis.ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := analysis.ServerInfo{
		Command:  s.opts.Command,
		Status:   s.status,
		Restarts: s.restarts,
	}
	if s.proc != nil {
		info.PID = s.proc.PID()
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return info
}

// Stop shuts the live instance down and cancels pending restarts.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	p := s.proc
	s.proc = nil
	s.status = analysis.ServerStatusStopped
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	timeout := s.opts.StopTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}
	if p != nil {
		if err := p.Close(timeout); err != nil {
			return err
		}
		slog.Info("analyzer server stopped")
	}
	s.wg.Wait()
	return nil
}
