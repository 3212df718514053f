package analysis

import "errors"

// Sentinel errors for analyzer client operations.
var (
	// ErrSpawnFailure indicates the analyzer process could not be started or
	// no process id was obtained. Recoverable: the host offers a retry.
	ErrSpawnFailure = errors.New("analyzer spawn failed")

	// ErrProcessCrash indicates the analyzer process exited unexpectedly.
	ErrProcessCrash = errors.New("analyzer process crashed")

	// ErrProtocol indicates a framing or decoding failure on the analyzer stream.
	ErrProtocol = errors.New("analyzer protocol error")

	// ErrMalformedElement indicates a single response element failed conversion.
	ErrMalformedElement = errors.New("malformed response element")

	// ErrNotWritable indicates the analyzer input stream cannot accept a request.
	ErrNotWritable = errors.New("stdin is not writable")

	// ErrRequestTimeout indicates the analyzer did not answer in time.
	ErrRequestTimeout = errors.New("analyzer request timeout")

	// ErrUnsupportedLanguage indicates the document is not in the analyzed language.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrNotRunning indicates no analyzer instance is currently usable.
	ErrNotRunning = errors.New("analyzer not running")

	// ErrNoDefinition indicates no declaration matched a definition query.
	ErrNoDefinition = errors.New("no definition found")
)
