// Package analyzertest provides a fake uvalang-analyzer for tests. The test
// binary re-executes itself as the analyzer: TestMain calls RunIfHelper,
// and tests pass the binary path from Enable as the analyzer command.
package analyzertest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/uvalang/uvalens/internal/adapter/analyzer"
	"github.com/uvalang/uvalens/internal/domain/analysis"
)

// EnvVar switches a re-executed test binary into fake analyzer mode.
const EnvVar = "UVALENS_FAKE_ANALYZER"

// Handoff contents that trigger failure behaviour in server mode.
const (
	Crash   = "CRASH"
	Hang    = "HANG"
	Garbage = "GARBAGE"
)

// ServerArgs returns the fake's server mode arguments:
//
//	server [framing] [canned-response-file]
//
// With a canned file every request is answered with its contents. Otherwise
// a handoff starting with '{' is echoed and any other text is analyzed.
// Oneshot mode arguments are the regular one-shot ones, prefixed:
//
//	oneshot <path> --stdin
func ServerArgs(framing analyzer.Framing, canned string) []string {
	args := []string{"server", string(framing)}
	if canned != "" {
		args = append(args, canned)
	}
	return args
}

// OneShotArgs returns one-shot arguments for the fake.
func OneShotArgs() []string {
	return append([]string{"oneshot"}, analyzer.DefaultOneShotArgs...)
}

// RunIfHelper turns the process into a fake analyzer when EnvVar is set.
// It never returns in that case.
func RunIfHelper() {
	if os.Getenv(EnvVar) != "1" {
		return
	}
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

// Enable makes child processes of this test act as fake analyzers and
// returns the command to launch.
func Enable(t testing.TB) string {
	t.Helper()
	t.Setenv(EnvVar, "1")
	return os.Args[0]
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "fake analyzer: missing mode")
		return 2
	}
	switch args[0] {
	case "server":
		return serve(args[1:], stdin, stdout)
	case "oneshot":
		return oneShot(args[1:], stdin, stdout)
	default:
		fmt.Fprintf(os.Stderr, "fake analyzer: unknown mode %q\n", args[0])
		return 2
	}
}

func serve(args []string, stdin io.Reader, stdout io.Writer) int {
	framing := analyzer.FramingStream
	if len(args) > 0 && args[0] != "" {
		framing = analyzer.Framing(args[0])
	}
	var canned []byte
	if len(args) > 1 {
		data, err := os.ReadFile(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "fake analyzer:", err)
			return 2
		}
		canned = data
	}

	sc := bufio.NewScanner(stdin)
	for {
		if !sc.Scan() {
			return 0
		}
		path := sc.Text()
		if !sc.Scan() {
			return 0
		}
		handoff := sc.Text()

		payload := canned
		if payload == nil {
			content, err := os.ReadFile(handoff)
			if err != nil {
				fmt.Fprintln(os.Stderr, "fake analyzer:", err)
				return 1
			}
			switch strings.TrimSpace(string(content)) {
			case Crash:
				return 3
			case Hang:
				time.Sleep(time.Hour)
				return 0
			case Garbage:
				_, _ = io.WriteString(stdout, "this is not json\n")
				continue
			}
			payload = respond(path, content)
		}

		if framing == analyzer.FramingLengthPrefixed {
			_, _ = stdout.Write(analyzer.EncodeFrame(payload))
			continue
		}
		writeChunked(stdout, payload)
	}
}

// writeChunked splits a response so readers see partial JSON values.
func writeChunked(w io.Writer, payload []byte) {
	third := len(payload) / 3
	for _, part := range [][]byte{payload[:third], payload[third : 2*third], payload[2*third:]} {
		_, _ = w.Write(part)
		time.Sleep(2 * time.Millisecond)
	}
	_, _ = io.WriteString(w, "\n")
}

func oneShot(args []string, stdin io.Reader, stdout io.Writer) int {
	path := "stdin.uva"
	if len(args) > 0 {
		path = args[0]
	}
	content, err := io.ReadAll(stdin)
	if err != nil {
		return 1
	}
	if strings.TrimSpace(string(content)) == Crash {
		return 3
	}
	_, _ = stdout.Write(respond(path, content))
	return 0
}

func respond(path string, content []byte) []byte {
	if t := bytes.TrimSpace(content); len(t) > 0 && t[0] == '{' {
		return t
	}
	payload, err := analyzer.EncodeResult(Analyze(path, string(content)))
	if err != nil {
		panic(err)
	}
	// Report an elapsed time like the real analyzer does.
	var m map[string]json.RawMessage
	_ = json.Unmarshal(payload, &m)
	m["elapsed"] = json.RawMessage(`"0.1ms"`)
	out, _ := json.Marshal(m)
	return out
}

var declKeywords = map[string]string{
	"fn":    analysis.KindFunction,
	"class": analysis.KindClass,
	"let":   analysis.KindVariable,
}

type ident struct {
	name   string
	offset int
}

// Analyze is a toy analyzer: "fn", "class" and "let" declare the following
// identifier, later uses of a declared name are references, an undeclared
// call is a function reference, and unused variables produce a warning.
// Every identifier and keyword also yields a token.
func Analyze(path, text string) analysis.Result {
	res := analysis.NewResult()
	idx := analysis.NewLineIndex(text)
	loc := func(off, length int) analysis.Location {
		p := idx.PositionAt(off)
		return analysis.Location{File: path, Line: uint(p.Line), Column: uint(p.Character), Offset: uint(off), Length: uint(length)}
	}

	ids := scan(text)
	declared := map[string]string{}
	used := map[string]bool{}
	for i, id := range ids {
		if _, kw := declKeywords[id.name]; kw {
			res.Tokens = append(res.Tokens, analysis.Token{Kind: "keyword", Location: loc(id.offset, len(id.name))})
			continue
		}
		res.Tokens = append(res.Tokens, analysis.Token{Kind: "identifier", Location: loc(id.offset, len(id.name))})

		if i > 0 {
			if kind, ok := declKeywords[ids[i-1].name]; ok {
				l := loc(id.offset, 0)
				declared[id.name] = kind
				res.Declarations = append(res.Declarations, analysis.Declaration{Name: id.name, Location: &l, Kind: kind})
				continue
			}
		}

		kind, ok := declared[id.name]
		if !ok {
			end := id.offset + len(id.name)
			if end >= len(text) || text[end] != '(' {
				continue
			}
			kind = analysis.KindFunction
		}
		used[id.name] = true
		res.References = append(res.References, analysis.Reference{Name: id.name, Kind: kind, Location: loc(id.offset, 0)})
	}

	for _, d := range res.Declarations {
		if d.Kind == analysis.KindVariable && !used[d.Name] {
			res.Warnings = append(res.Warnings, analysis.LintWarning{
				Message:  fmt.Sprintf("unused variable %s", d.Name),
				Kind:     "unused",
				Location: loc(int(d.Location.Offset), len(d.Name)),
			})
		}
	}
	return res
}

func scan(text string) []ident {
	var out []ident
	start := -1
	for i, r := range text + " " {
		isIdent := r == '_' || unicode.IsLetter(r) || (start >= 0 && unicode.IsDigit(r))
		switch {
		case isIdent && start < 0:
			start = i
		case !isIdent && start >= 0:
			out = append(out, ident{name: text[start:i], offset: start})
			start = -1
		}
	}
	return out
}
