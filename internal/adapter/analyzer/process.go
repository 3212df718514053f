// Package analyzer drives the external uvalang-analyzer binary: it spawns and
// supervises the long-lived analysis server, speaks its request/response
// protocol over stdio and converts the JSON it emits into the domain model.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/uvalang/uvalens/internal/domain/analysis"
)

// ExitFunc is called once when a process exits without Close being called.
type ExitFunc func(code int, err error)

type response struct {
	payload []byte
	err     error
}

// Process is one instance of the analyzer server. It is launched once and
// never reused after it exits; the supervisor replaces it instead.
type Process struct {
	path   string
	args   []string
	dir    string
	stderr io.Writer
	codec  Codec
	onExit ExitFunc

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *os.File
	running  bool
	closing  bool
	lastErr  error
	exitCode int

	responses chan response
	exited    chan struct{}
	closed    chan struct{}
}

// NewProcess prepares, but does not start, an analyzer instance.
func NewProcess(path string, args []string, dir string, codec Codec, onExit ExitFunc) *Process {
	return &Process{
		path:      path,
		args:      args,
		dir:       dir,
		stderr:    os.Stderr,
		codec:     codec,
		onExit:    onExit,
		responses: make(chan response, 4),
		exited:    make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// SetStderr redirects the analyzer's stderr. Must be called before Launch.
func (p *Process) SetStderr(w io.Writer) {
	p.stderr = w
}

// Launch spawns the analyzer. Failures to resolve or start the binary are
// returned wrapped in analysis.ErrSpawnFailure.
func (p *Process) Launch(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return errors.New("process already launched")
	}

	bin, err := exec.LookPath(p.path)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", analysis.ErrSpawnFailure, p.path, err)
	}

	// Not CommandContext: the server outlives the request that started it.
	cmd := exec.Command(bin, p.args...) //nolint:gosec // command from trusted config
	cmd.Dir = p.dir
	cmd.Stderr = p.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %w", analysis.ErrSpawnFailure, err)
	}

	// A plain os.Pipe instead of StdoutPipe so that Wait does not close the
	// read side while a response is still being consumed.
	pr, pw, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("%w: stdout pipe: %w", analysis.ErrSpawnFailure, err)
	}
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = pr.Close()
		_ = pw.Close()
		return fmt.Errorf("%w: start %s: %w", analysis.ErrSpawnFailure, bin, err)
	}
	_ = pw.Close()

	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		_ = stdin.Close()
		_ = pr.Close()
		return fmt.Errorf("%w: no process id for %s", analysis.ErrSpawnFailure, bin)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = pr
	p.running = true

	go p.wait()
	go p.readLoop(p.codec.NewResponseReader(pr))
	return nil
}

// wait reaps the process and reports unrequested exits.
func (p *Process) wait() {
	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}

	p.mu.Lock()
	p.running = false
	p.exitCode = code
	if err != nil {
		p.lastErr = err
	} else {
		p.lastErr = fmt.Errorf("exited with code %d", code)
	}
	intentional := p.closing
	close(p.exited)
	p.mu.Unlock()

	if !intentional {
		slog.Warn("analyzer exited", "pid", p.cmd.Process.Pid, "code", code, "error", err)
		if p.onExit != nil {
			p.onExit(code, err)
		}
	}
}

// readLoop forwards every framed response. It stops after the first read
// error since the stream position is then unknown.
func (p *Process) readLoop(rr ResponseReader) {
	for {
		payload, err := rr.ReadResponse()
		select {
		case p.responses <- response{payload: payload, err: err}:
		case <-p.closed:
			return
		case <-p.exited:
			// Nobody will read a full buffer once the process is gone.
			select {
			case p.responses <- response{payload: payload, err: err}:
			default:
			}
			if err != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Send writes one request to the analyzer's stdin.
func (p *Process) Send(req Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.stdin == nil {
		return analysis.ErrNotWritable
	}
	return p.codec.WriteRequest(p.stdin, req)
}

// Next waits for the next response. An error while the process is exiting
// is reported as analysis.ErrProcessCrash.
func (p *Process) Next(ctx context.Context) ([]byte, error) {
	select {
	case r := <-p.responses:
		if r.err != nil && p.exitedWithin(100*time.Millisecond) {
			return nil, fmt.Errorf("%w: %w", analysis.ErrProcessCrash, r.err)
		}
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Discard drops responses nobody asked for.
func (p *Process) Discard() int {
	n := 0
	for {
		select {
		case r := <-p.responses:
			if r.err != nil {
				// Put the terminal error back for the next reader.
				p.responses <- r
				return n
			}
			n++
		default:
			return n
		}
	}
}

func (p *Process) exitedWithin(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.exited:
		return true
	case <-t.C:
		return false
	}
}

// Running reports whether the process is alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// PID returns the process id, or 0 before launch.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// LastError returns the reason of the last exit, if any.
func (p *Process) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// ExitCode returns the exit code once the process has exited.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Exited is closed when the process has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Kill terminates the process as an unrequested exit, so the exit hook runs.
func (p *Process) Kill() {
	p.mu.Lock()
	cmd := p.cmd
	running := p.running
	p.mu.Unlock()
	if cmd != nil && cmd.Process != nil && running {
		_ = cmd.Process.Kill()
	}
}

// Close stops the process without invoking the exit hook: stdin is closed,
// and the process is killed if it has not exited after timeout.
func (p *Process) Close(timeout time.Duration) error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	close(p.closed)
	cmd, stdin, stdout := p.cmd, p.stdin, p.stdout
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if stdin != nil {
		_ = stdin.Close()
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.exited:
	case <-t.C:
		slog.Warn("analyzer did not exit gracefully, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-p.exited
	}

	if stdout != nil {
		_ = stdout.Close()
	}
	return nil
}
