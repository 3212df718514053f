package analyzer

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvalang/uvalens/internal/domain/analysis"
)

func TestEncodeRequest(t *testing.T) {
	got := EncodeRequest(Request{Path: "/work/src/main.uva", HandoffPath: "/tmp/main.uva"})
	assert.Equal(t, "/work/src/main.uva\n/tmp/main.uva\n", string(got))
}

func TestWriteRequest_RejectsLineBreaks(t *testing.T) {
	codec, err := NewCodec(FramingStream)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = codec.WriteRequest(&buf, Request{Path: "a\nb.uva", HandoffPath: "/tmp/b.uva"})
	require.Error(t, err)
	assert.Zero(t, buf.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteRequest_NotWritable(t *testing.T) {
	codec, err := NewCodec(FramingLengthPrefixed)
	require.NoError(t, err)

	err = codec.WriteRequest(failingWriter{}, Request{Path: "a.uva", HandoffPath: "/tmp/a.uva"})
	require.ErrorIs(t, err, analysis.ErrNotWritable)
}

func TestParseFraming(t *testing.T) {
	f, err := ParseFraming(" Length-Prefixed ")
	require.NoError(t, err)
	assert.Equal(t, FramingLengthPrefixed, f)

	_, err = ParseFraming("newline")
	require.Error(t, err)

	_, err = NewCodec("newline")
	require.Error(t, err)
}

func TestStreamReader_ChunkedResponses(t *testing.T) {
	codec, err := NewCodec(FramingStream)
	require.NoError(t, err)

	pr, pw := io.Pipe()
	rr := codec.NewResponseReader(pr)

	go func() {
		// Two responses split at arbitrary points, including inside strings.
		for _, chunk := range []string{`{"declarations": [{"na`, `me": "a"}]}`, "\n{\"lin", `ter": []}`} {
			_, _ = io.WriteString(pw, chunk)
		}
		_ = pw.Close()
	}()

	first, err := rr.ReadResponse()
	require.NoError(t, err)
	assert.JSONEq(t, `{"declarations": [{"name": "a"}]}`, string(first))

	second, err := rr.ReadResponse()
	require.NoError(t, err)
	assert.JSONEq(t, `{"linter": []}`, string(second))

	_, err = rr.ReadResponse()
	require.ErrorIs(t, err, analysis.ErrProtocol)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestStreamReader_InvalidJSON(t *testing.T) {
	codec, _ := NewCodec(FramingStream)

	rr := codec.NewResponseReader(strings.NewReader("this is not json\n"))
	_, err := rr.ReadResponse()
	require.ErrorIs(t, err, analysis.ErrProtocol)

	rr = codec.NewResponseReader(strings.NewReader(`[1, 2]`))
	_, err = rr.ReadResponse()
	require.ErrorIs(t, err, analysis.ErrProtocol)
}

func TestLengthPrefixed_RoundTrip(t *testing.T) {
	codec, err := NewCodec(FramingLengthPrefixed)
	require.NoError(t, err)

	a := []byte(`{"declarations": []}`)
	b := []byte(`{"linter": [{"message": "x"}]}`)
	stream := append(EncodeFrame(a), EncodeFrame(b)...)
	assert.Equal(t, "00000014", string(stream[:8]))

	// One byte per read forces the accumulate loop.
	rr := codec.NewResponseReader(iotest.OneByteReader(bytes.NewReader(stream)))

	got, err := rr.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = rr.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestLengthPrefixed_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty stream", ""},
		{"short header", "0000"},
		{"non-hex header", "zzzzzzzz{}"},
		{"body shorter than declared", "00000040" + `{"declarations": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, _ := NewCodec(FramingLengthPrefixed)
			rr := codec.NewResponseReader(strings.NewReader(tt.input))
			_, err := rr.ReadResponse()
			require.ErrorIs(t, err, analysis.ErrProtocol)
		})
	}
}

func TestLengthPrefixed_BodyLongerThanDeclared(t *testing.T) {
	codec, _ := NewCodec(FramingLengthPrefixed)
	rr := codec.NewResponseReader(strings.NewReader("00000005" + `{"declarations": []}`))

	body, err := rr.ReadResponse()
	require.NoError(t, err)
	assert.Len(t, body, 5)

	_, _, err = Decode(body)
	require.ErrorIs(t, err, analysis.ErrProtocol)
}

func TestReadAll(t *testing.T) {
	data, err := ReadAll(strings.NewReader(`{"tokens": []}`))
	require.NoError(t, err)
	assert.Equal(t, `{"tokens": []}`, string(data))

	_, err = ReadAll(strings.NewReader("  \n"))
	require.ErrorIs(t, err, analysis.ErrProtocol)
}
