package bencode

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedByte  = errors.New("unexpected byte")
	ErrIntegerOverflow = errors.New("integer overflows int64")
	ErrStringTooLong   = errors.New("string length exceeds limit")
	ErrLabelMismatch   = errors.New("label mismatch")
)

// ProtocolError is a malformed or out-of-order frame, including a peer that closes mid-frame.
// The framing has no resynchronization, so a ProtocolError is fatal to the stream it came from.
type ProtocolError struct {
	// Op is the decode operation that failed, e.g. "string" or "list end".
	Op string
	// Offset is the number of bytes consumed before the error.
	Offset int64
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error decoding %s at offset %d: %s", e.Op, e.Offset, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is, or wraps, a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
