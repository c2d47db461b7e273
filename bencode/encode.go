package bencode

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

const writeBufferSize = 4096

// Encoder buffers frames and writes them to the underlying writer when the
// buffer fills or on Flush. The first write error is sticky: every later call returns it.
//
// An Encoder is not safe for concurrent use; callers sharing one must serialize.
type Encoder struct {
	w   *bufio.Writer
	num []byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriterSize(w, writeBufferSize)}
}

func (e *Encoder) EncodeInteger(n int64) error {
	e.num = strconv.AppendInt(e.num[:0], n, 10)
	e.w.WriteByte('i')
	e.w.Write(e.num)
	return e.w.WriteByte('e')
}

func (e *Encoder) EncodeString(b []byte) error {
	e.num = strconv.AppendInt(e.num[:0], int64(len(b)), 10)
	e.w.Write(e.num)
	e.w.WriteByte(':')
	_, err := e.w.Write(b)
	return err
}

func (e *Encoder) EncodeText(s string) error {
	e.num = strconv.AppendInt(e.num[:0], int64(len(s)), 10)
	e.w.Write(e.num)
	e.w.WriteByte(':')
	_, err := e.w.WriteString(s)
	return err
}

func (e *Encoder) EncodeListStart() error { return e.w.WriteByte('l') }
func (e *Encoder) EncodeListEnd() error   { return e.w.WriteByte('e') }

// WriteToken encodes any token.
func (e *Encoder) WriteToken(t Token) error {
	switch t.Kind {
	case Integer:
		return e.EncodeInteger(t.Int)
	case ByteString:
		return e.EncodeString(t.Bytes)
	case ListStart:
		return e.EncodeListStart()
	case ListEnd:
		return e.EncodeListEnd()
	default:
		return fmt.Errorf("encoding token: unknown kind %s", t.Kind)
	}
}

// Flush writes any buffered frames to the underlying writer.
func (e *Encoder) Flush() error {
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("flushing frames: %w", err)
	}
	return nil
}
