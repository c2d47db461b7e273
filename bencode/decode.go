package bencode

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
)

// DefaultMaxStringLen is the largest string frame a Decoder accepts by default.
const DefaultMaxStringLen = 64 * 1024 * 1024

const readBufferSize = 4096

// Decoder reads frames from a byte stream with one byte of lookahead.
// The underlying reader is only read when the internal buffer is exhausted,
// so a Decoder never blocks waiting for bytes past the frame it is decoding.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	r      *bufio.Reader
	offset int64

	// MaxStringLen is the largest string payload accepted. Zero means DefaultMaxStringLen.
	MaxStringLen int64
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, readBufferSize)}
}

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int64 { return d.offset }

func (d *Decoder) maxStringLen() int64 {
	if d.MaxStringLen > 0 {
		return d.MaxStringLen
	}
	return DefaultMaxStringLen
}

// fail wraps err for op. EOF becomes a ProtocolError since every caller is mid-message,
// other reader errors are passed through so transport failures stay distinguishable.
func (d *Decoder) fail(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &ProtocolError{Op: op, Offset: d.offset, Err: io.ErrUnexpectedEOF}
	}
	if IsProtocolError(err) {
		return err
	}
	return fmt.Errorf("reading %s: %w", op, err)
}

func (d *Decoder) protocolErr(op string, err error) error {
	return &ProtocolError{Op: op, Offset: d.offset, Err: err}
}

// PeekTag returns the next byte without consuming it.
func (d *Decoder) PeekTag() (byte, error) {
	b, err := d.r.Peek(1)
	if err != nil {
		return 0, d.fail("tag", err)
	}
	return b[0], nil
}

func (d *Decoder) readByte(op string) (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, d.fail(op, err)
	}
	d.offset++
	return b, nil
}

func (d *Decoder) expect(op string, want byte) error {
	b, err := d.readByte(op)
	if err != nil {
		return err
	}
	if b != want {
		return d.protocolErr(op, fmt.Errorf("%w %q, want %q", ErrUnexpectedByte, b, want))
	}
	return nil
}

// HasString reports whether the next frame is a string, i.e. the next byte is an ASCII digit.
func (d *Decoder) HasString() (bool, error) {
	b, err := d.PeekTag()
	if err != nil {
		return false, err
	}
	return isDigit(b), nil
}

func (d *Decoder) DecodeListStart() error { return d.expect("list start", 'l') }
func (d *Decoder) DecodeListEnd() error   { return d.expect("list end", 'e') }

// readDecimal consumes a run of one or more digits.
func (d *Decoder) readDecimal(op string) (uint64, error) {
	var n uint64
	digits := 0
	for {
		b, err := d.PeekTag()
		if err != nil {
			return 0, err
		}
		if !isDigit(b) {
			break
		}
		if _, err := d.readByte(op); err != nil {
			return 0, err
		}
		digit := uint64(b - '0')
		if n > (math.MaxUint64-digit)/10 {
			return 0, d.protocolErr(op, ErrIntegerOverflow)
		}
		n = n*10 + digit
		digits++
	}
	if digits == 0 {
		b, _ := d.PeekTag()
		return 0, d.protocolErr(op, fmt.Errorf("%w %q, want digit", ErrUnexpectedByte, b))
	}
	return n, nil
}

// DecodeString decodes a length-prefixed byte string.
func (d *Decoder) DecodeString() ([]byte, error) {
	n, err := d.readDecimal("string")
	if err != nil {
		return nil, err
	}
	if n > uint64(d.maxStringLen()) {
		return nil, d.protocolErr("string", fmt.Errorf("%w: %d > %d", ErrStringTooLong, n, d.maxStringLen()))
	}
	if err := d.expect("string", ':'); err != nil {
		return nil, err
	}
	return d.readPayload("string", int64(n))
}

// readPayload reads exactly n payload bytes. The buffer grows as bytes arrive, so a
// declared length only costs memory once the peer actually sends that much.
func (d *Decoder) readPayload(op string, n int64) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	if n < readBufferSize {
		buf.Grow(int(n))
	} else {
		buf.Grow(readBufferSize)
	}
	read, err := io.CopyN(&buf, d.r, n)
	d.offset += read
	if err != nil {
		return nil, d.fail(op, err)
	}
	return buf.Bytes(), nil
}

// DecodeText decodes a string frame as a Go string.
func (d *Decoder) DecodeText() (string, error) {
	b, err := d.DecodeString()
	return string(b), err
}

// DecodeInteger decodes an "i<decimal>e" frame.
func (d *Decoder) DecodeInteger() (int64, error) {
	if err := d.expect("integer", 'i'); err != nil {
		return 0, err
	}
	negative := false
	b, err := d.PeekTag()
	if err != nil {
		return 0, err
	}
	if b == '-' {
		negative = true
		if _, err := d.readByte("integer"); err != nil {
			return 0, err
		}
	}
	mag, err := d.readDecimal("integer")
	if err != nil {
		return 0, err
	}
	var n int64
	switch {
	case negative && mag == uint64(math.MaxInt64)+1:
		n = math.MinInt64
	case mag > math.MaxInt64:
		return 0, d.protocolErr("integer", ErrIntegerOverflow)
	case negative:
		n = -int64(mag)
	default:
		n = int64(mag)
	}
	if err := d.expect("integer", 'e'); err != nil {
		return 0, err
	}
	return n, nil
}

// ExpectLabel decodes a string and requires it to equal label.
// A length prefix that cannot match fails before the payload is read.
func (d *Decoder) ExpectLabel(label string) error {
	n, err := d.readDecimal("label")
	if err != nil {
		return err
	}
	if n != uint64(len(label)) {
		return d.protocolErr("label", fmt.Errorf("%w: got %d-byte string, want %q", ErrLabelMismatch, n, label))
	}
	if err := d.expect("label", ':'); err != nil {
		return err
	}
	buf, err := d.readPayload("label", int64(n))
	if err != nil {
		return err
	}
	if string(buf) != label {
		return d.protocolErr("label", fmt.Errorf("%w: got %q, want %q", ErrLabelMismatch, buf, label))
	}
	return nil
}

// Token decodes the next frame of any kind.
func (d *Decoder) Token() (Token, error) {
	b, err := d.PeekTag()
	if err != nil {
		return Token{}, err
	}
	switch {
	case isDigit(b):
		s, err := d.DecodeString()
		return String(s), err
	case b == 'i':
		n, err := d.DecodeInteger()
		return Int(n), err
	case b == 'l':
		return StartList(), d.DecodeListStart()
	case b == 'e':
		return EndList(), d.DecodeListEnd()
	default:
		return Token{}, d.protocolErr("token", fmt.Errorf("%w %q", ErrUnexpectedByte, b))
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
