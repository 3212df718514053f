package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/uvalang/uvalens/internal/domain/analysis"
	"github.com/uvalang/uvalens/internal/resilience"
)

// PathPlaceholder in one-shot arguments is replaced by the document path.
const PathPlaceholder = "{path}"

// DefaultOneShotArgs analyze a single document read from stdin.
var DefaultOneShotArgs = []string{PathPlaceholder, "--stdin"}

// OneShot runs the analyzer once per call: the document is piped to stdin
// and the whole of stdout is one response. Each call owns its process, so
// calls never observe each other's output.
type OneShot struct {
	command string
	args    []string
	dir     string
	timeout time.Duration
	pool    *resilience.Pool
}

// NewOneShot creates a one-shot runner. pool bounds concurrent processes.
func NewOneShot(command string, args []string, dir string, timeout time.Duration, pool *resilience.Pool) *OneShot {
	if len(args) == 0 {
		args = DefaultOneShotArgs
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OneShot{command: command, args: args, dir: dir, timeout: timeout, pool: pool}
}

// Tokens analyzes the document text and returns the result, of which the
// token list is the interesting part.
func (o *OneShot) Tokens(ctx context.Context, doc analysis.Document) (analysis.Result, error) {
	res, _, err := o.run(ctx, doc.Path, []byte(doc.Text))
	return res, err
}

// Dispatch implements Dispatcher by piping the handoff file's contents.
func (o *OneShot) Dispatch(ctx context.Context, req Request) (analysis.Result, DecodeStats, error) {
	text, err := os.ReadFile(req.HandoffPath) //nolint:gosec // handoff path is created by the client
	if err != nil {
		return analysis.NewResult(), DecodeStats{}, fmt.Errorf("read handoff %s: %w", req.HandoffPath, err)
	}
	return o.run(ctx, req.Path, text)
}

type oneShotOutput struct {
	res   analysis.Result
	stats DecodeStats
}

func (o *OneShot) run(ctx context.Context, path string, input []byte) (analysis.Result, DecodeStats, error) {
	out, err := resilience.Do(ctx, o.pool, func() (oneShotOutput, error) {
		return o.exec(ctx, path, input)
	})
	if err != nil {
		return analysis.NewResult(), out.stats, err
	}
	return out.res, out.stats, nil
}

func (o *OneShot) exec(ctx context.Context, path string, input []byte) (oneShotOutput, error) {
	bin, err := exec.LookPath(o.command)
	if err != nil {
		return oneShotOutput{}, fmt.Errorf("%w: resolve %s: %w", analysis.ErrSpawnFailure, o.command, err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := time.Now()
	cmd := exec.CommandContext(ctx, bin, expandArgs(o.args, path)...) //nolint:gosec // command from trusted config
	cmd.Dir = o.dir
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return oneShotOutput{}, fmt.Errorf("%w: stdout pipe: %w", analysis.ErrSpawnFailure, err)
	}
	if err := cmd.Start(); err != nil {
		return oneShotOutput{}, fmt.Errorf("%w: start %s: %w", analysis.ErrSpawnFailure, bin, err)
	}

	data, readErr := ReadAll(stdout)
	waitErr := cmd.Wait()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return oneShotOutput{}, fmt.Errorf("%w after %s", analysis.ErrRequestTimeout, o.timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return oneShotOutput{}, fmt.Errorf("%w: exited with code %d", analysis.ErrProcessCrash, exitErr.ExitCode())
	}
	if waitErr != nil {
		return oneShotOutput{}, fmt.Errorf("%w: %w", analysis.ErrProcessCrash, waitErr)
	}
	if readErr != nil {
		return oneShotOutput{}, readErr
	}

	res, stats, err := Decode(data)
	if err != nil {
		return oneShotOutput{stats: stats}, err
	}
	slog.Debug("analyzer one-shot", "path", path, "elapsed_ms", time.Since(started).Milliseconds(),
		"reported_elapsed", stats.Elapsed, "tokens", len(res.Tokens), "skipped", stats.Skipped)
	return oneShotOutput{res: res, stats: stats}, nil
}

func expandArgs(args []string, path string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, PathPlaceholder, path)
	}
	return out
}
