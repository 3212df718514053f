package analyzer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/uvalang/uvalens/internal/domain/analysis"
)

// Framing selects how responses are delimited on the analyzer's stdout.
type Framing string

const (
	// FramingStream delimits responses by JSON value boundaries.
	FramingStream Framing = "stream"
	// FramingLengthPrefixed prefixes every response with 8 ASCII hex digits
	// giving the byte length of the JSON body that follows.
	FramingLengthPrefixed Framing = "length-prefixed"
)

const (
	lengthHeaderSize = 8
	maxFrameSize     = 64 << 20
)

// ParseFraming validates a configured framing name.
func ParseFraming(s string) (Framing, error) {
	switch f := Framing(strings.ToLower(strings.TrimSpace(s))); f {
	case FramingStream, FramingLengthPrefixed:
		return f, nil
	default:
		return "", fmt.Errorf("unknown framing %q", s)
	}
}

// Request asks the analyzer to analyze the document saved at HandoffPath and
// report locations against Path.
type Request struct {
	Path        string
	HandoffPath string
}

// EncodeRequest renders a request as two newline-terminated lines.
func EncodeRequest(req Request) []byte {
	b := make([]byte, 0, len(req.Path)+len(req.HandoffPath)+2)
	b = append(b, req.Path...)
	b = append(b, '\n')
	b = append(b, req.HandoffPath...)
	b = append(b, '\n')
	return b
}

// ResponseReader yields one raw response payload per call.
type ResponseReader interface {
	ReadResponse() ([]byte, error)
}

// Codec writes requests to and reads responses from an analyzer stream.
type Codec interface {
	Framing() Framing
	WriteRequest(w io.Writer, req Request) error
	NewResponseReader(r io.Reader) ResponseReader
}

// NewCodec returns the codec for the given framing.
func NewCodec(f Framing) (Codec, error) {
	switch f {
	case FramingStream, "":
		return streamCodec{}, nil
	case FramingLengthPrefixed:
		return lengthPrefixedCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown framing %q", f)
	}
}

func writeRequest(w io.Writer, req Request) error {
	if strings.ContainsAny(req.Path, "\r\n") || strings.ContainsAny(req.HandoffPath, "\r\n") {
		return errors.New("request path contains a line break")
	}
	if _, err := w.Write(EncodeRequest(req)); err != nil {
		return fmt.Errorf("%w: %w", analysis.ErrNotWritable, err)
	}
	return nil
}

// --- Framing A: JSON value stream ---

type streamCodec struct{}

func (streamCodec) Framing() Framing { return FramingStream }

func (streamCodec) WriteRequest(w io.Writer, req Request) error { return writeRequest(w, req) }

func (streamCodec) NewResponseReader(r io.Reader) ResponseReader {
	return &streamReader{dec: json.NewDecoder(bufio.NewReaderSize(r, 64*1024))}
}

type streamReader struct {
	dec *json.Decoder
}

// ReadResponse decodes the next complete JSON value, however it was chunked.
// After a syntax error the stream cannot be resynchronized.
func (s *streamReader) ReadResponse() ([]byte, error) {
	var raw json.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		if !errors.Is(err, io.EOF) {
			slog.Warn("analyzer: invalid JSON on stream", "error", err)
		}
		return nil, fmt.Errorf("%w: read response: %w", analysis.ErrProtocol, err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("%w: response is not a JSON object", analysis.ErrProtocol)
	}
	return raw, nil
}

// --- Framing B: 8 hex digit length prefix ---

type lengthPrefixedCodec struct{}

func (lengthPrefixedCodec) Framing() Framing { return FramingLengthPrefixed }

func (lengthPrefixedCodec) WriteRequest(w io.Writer, req Request) error { return writeRequest(w, req) }

func (lengthPrefixedCodec) NewResponseReader(r io.Reader) ResponseReader {
	return &lengthPrefixedReader{r: bufio.NewReaderSize(r, 64*1024)}
}

type lengthPrefixedReader struct {
	r *bufio.Reader
}

// ReadResponse reads one frame, accumulating across partial reads until the
// declared length is complete.
func (l *lengthPrefixedReader) ReadResponse() ([]byte, error) {
	var header [lengthHeaderSize]byte
	if _, err := io.ReadFull(l.r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: read length header: %w", analysis.ErrProtocol, err)
	}
	n, err := strconv.ParseUint(string(header[:]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid length header %q", analysis.ErrProtocol, header[:])
	}
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", analysis.ErrProtocol, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(l.r, body); err != nil {
		return nil, fmt.Errorf("%w: read body (%d bytes): %w", analysis.ErrProtocol, n, err)
	}
	return body, nil
}

// EncodeFrame prefixes payload with its length as 8 lowercase hex digits.
func EncodeFrame(payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(lengthHeaderSize + len(payload))
	fmt.Fprintf(&buf, "%08x", len(payload))
	buf.Write(payload)
	return buf.Bytes()
}

// --- one-shot ---

// ReadAll reads a one-shot response: the whole of r until EOF.
func ReadAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFrameSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %w", analysis.ErrProtocol, err)
	}
	if len(data) > maxFrameSize {
		return nil, fmt.Errorf("%w: output exceeds %d bytes", analysis.ErrProtocol, maxFrameSize)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty output", analysis.ErrProtocol)
	}
	return data, nil
}
