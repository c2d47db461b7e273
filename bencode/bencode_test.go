package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// str encodes s as a string frame.
func str(s string) string {
	return fmt.Sprintf("%d:%s", len(s), s)
}

func encodeTokens(t *testing.T, tokens ...Token) []byte {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, tok := range tokens {
		require.NoError(t, enc.WriteToken(tok))
	}
	require.NoError(t, enc.Flush())
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		tokens []Token
		wire   string
	}{
		{
			name:   "integers",
			tokens: []Token{Int(0), Int(42), Int(-7), Int(math.MaxInt64), Int(math.MinInt64)},
			wire:   "i0ei42ei-7ei9223372036854775807ei-9223372036854775808e",
		},
		{
			name:   "strings",
			tokens: []Token{Text("argv"), String([]byte{}), String([]byte{0, 'e', 'l', 0xff})},
			wire:   "4:argv0:4:\x00el\xff",
		},
		{
			name: "nested lists",
			tokens: []Token{
				StartList(), Text("a"), StartList(), Int(1), EndList(), StartList(), EndList(), EndList(),
			},
			wire: "l1:ali1eelee",
		},
		{
			name: "request shaped",
			tokens: []Token{
				StartList(),
				Text("argv"), StartList(), Text("cat"), EndList(),
				Text("cwd"), Text("/tmp"),
				Text("env"), StartList(), Text("FOO"), Text("bar"), EndList(),
				Text("stdin"), Text("Hello!\n"),
				EndList(),
			},
			wire: "l4:argvl3:cate3:cwd4:/tmp3:envl3:FOO3:bare5:stdin7:Hello!\ne",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			wire := encodeTokens(t, c.tokens...)
			assert.Equal(t, c.wire, string(wire))

			dec := NewDecoder(bytes.NewReader(wire))
			for i, want := range c.tokens {
				got, err := dec.Token()
				require.NoError(t, err, "token %d", i)
				assert.Equal(t, want.Kind, got.Kind)
				assert.Equal(t, want.Int, got.Int)
				assert.Equal(t, string(want.Bytes), string(got.Bytes))
			}
			assert.Equal(t, int64(len(wire)), dec.Offset())
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		decode  func(d *Decoder) error
		wantErr error
	}{
		{
			name:    "string without digit",
			input:   "x:abc",
			decode:  func(d *Decoder) error { _, err := d.DecodeString(); return err },
			wantErr: ErrUnexpectedByte,
		},
		{
			name:    "string missing colon",
			input:   "3abc",
			decode:  func(d *Decoder) error { _, err := d.DecodeString(); return err },
			wantErr: ErrUnexpectedByte,
		},
		{
			name:    "string truncated",
			input:   "10:abc",
			decode:  func(d *Decoder) error { _, err := d.DecodeString(); return err },
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "empty input",
			input:   "",
			decode:  func(d *Decoder) error { return d.DecodeListStart() },
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "list start mismatch",
			input:   "e",
			decode:  func(d *Decoder) error { return d.DecodeListStart() },
			wantErr: ErrUnexpectedByte,
		},
		{
			name:    "integer overflow",
			input:   "i9223372036854775808e",
			decode:  func(d *Decoder) error { _, err := d.DecodeInteger(); return err },
			wantErr: ErrIntegerOverflow,
		},
		{
			name:    "integer huge",
			input:   "i99999999999999999999999e",
			decode:  func(d *Decoder) error { _, err := d.DecodeInteger(); return err },
			wantErr: ErrIntegerOverflow,
		},
		{
			name:    "integer without digits",
			input:   "ie",
			decode:  func(d *Decoder) error { _, err := d.DecodeInteger(); return err },
			wantErr: ErrUnexpectedByte,
		},
		{
			name:    "label mismatch same length",
			input:   "3:env",
			decode:  func(d *Decoder) error { return d.ExpectLabel("cwd") },
			wantErr: ErrLabelMismatch,
		},
		{
			name:    "label mismatch length",
			input:   "4:argv",
			decode:  func(d *Decoder) error { return d.ExpectLabel("cwd") },
			wantErr: ErrLabelMismatch,
		},
		{
			name:    "unknown token",
			input:   "d",
			decode:  func(d *Decoder) error { _, err := d.Token(); return err },
			wantErr: ErrUnexpectedByte,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.decode(NewDecoder(strings.NewReader(c.input)))
			require.Error(t, err)
			assert.True(t, IsProtocolError(err), "want protocol error, got %v", err)
			assert.ErrorIs(t, err, c.wantErr)
		})
	}
}

func TestDecodeStringLimit(t *testing.T) {
	dec := NewDecoder(strings.NewReader("11:hello world"))
	dec.MaxStringLen = 10
	_, err := dec.DecodeString()
	require.ErrorIs(t, err, ErrStringTooLong)

	dec = NewDecoder(strings.NewReader("10:helloworld"))
	dec.MaxStringLen = 10
	s, err := dec.DecodeText()
	require.NoError(t, err)
	assert.Equal(t, "helloworld", s)
}

func TestDecodeStringAllocatesAsPayloadArrives(t *testing.T) {
	// a header declaring the maximum length followed by three bytes and a hang-up
	wire := "67108864:abc"

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := NewDecoder(strings.NewReader(wire)).DecodeString()
	runtime.ReadMemStats(&after)

	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, IsProtocolError(err))
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestDecodeLargeString(t *testing.T) {
	payload := strings.Repeat("x", 3*readBufferSize+7)
	dec := NewDecoder(strings.NewReader(str(payload) + "e"))
	s, err := dec.DecodeText()
	require.NoError(t, err)
	assert.Equal(t, payload, s)
	assert.Equal(t, int64(len(str(payload))), dec.Offset())
	require.NoError(t, dec.DecodeListEnd())
}

func TestLeadingZeroLength(t *testing.T) {
	dec := NewDecoder(strings.NewReader("003:abc"))
	s, err := dec.DecodeText()
	require.NoError(t, err)
	assert.Equal(t, "abc", s)
}

func TestHasString(t *testing.T) {
	dec := NewDecoder(strings.NewReader("3:abce"))
	ok, err := dec.HasString()
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = dec.DecodeString()
	require.NoError(t, err)

	ok, err = dec.HasString()
	require.NoError(t, err)
	assert.False(t, ok)

	tag, err := dec.PeekTag()
	require.NoError(t, err)
	assert.Equal(t, byte('e'), tag)
	require.NoError(t, dec.DecodeListEnd())
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestTransportErrorIsNotProtocolError(t *testing.T) {
	dec := NewDecoder(errReader{err: net.ErrClosed})
	_, err := dec.DecodeString()
	require.Error(t, err)
	assert.False(t, IsProtocolError(err))
	assert.True(t, errors.Is(err, net.ErrClosed))
}

// The decoder must not read past the frame it is decoding, otherwise a
// peer that waits for a response after sending a frame would deadlock.
func TestDecodeDoesNotOverread(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte("5:hello"))
	}()

	dec := NewDecoder(server)
	s, err := dec.DecodeText()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

type countingWriter struct {
	writes int
	bytes.Buffer
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

func TestEncoderBuffersUntilFlush(t *testing.T) {
	w := &countingWriter{}
	enc := NewEncoder(w)
	require.NoError(t, enc.EncodeListStart())
	require.NoError(t, enc.EncodeText("stdout"))
	require.NoError(t, enc.EncodeInteger(-3))
	assert.Equal(t, 0, w.writes)

	require.NoError(t, enc.Flush())
	assert.Equal(t, 1, w.writes)
	assert.Equal(t, "l6:stdouti-3e", w.String())
}

func TestEncoderStickyError(t *testing.T) {
	enc := NewEncoder(errWriter{})
	require.NoError(t, enc.EncodeText("x"))
	require.Error(t, enc.Flush())
	require.Error(t, enc.EncodeListEnd())
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }
