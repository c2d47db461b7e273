package envelope

import (
	"fmt"
	"sync"

	"github.com/kojan/daiyousei/bencode"
)

// ResponseWriter is the server side of the response envelope. The stdout and
// stderr writers share one ResponseWriter; its lock keeps a chunk frame from
// being split by a chunk for the other label.
type ResponseWriter struct {
	mu  sync.Mutex
	enc *bencode.Encoder
}

func NewResponseWriter(enc *bencode.Encoder) *ResponseWriter {
	return &ResponseWriter{enc: enc}
}

// Handshake sends the outer list start. Callers wait for it before sending their request.
func (w *ResponseWriter) Handshake() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enc.EncodeListStart()
	if err := w.enc.Flush(); err != nil {
		return fmt.Errorf("writing handshake: %w", err)
	}
	return nil
}

// WriteChunk sends one labeled output chunk and flushes it.
func (w *ResponseWriter) WriteChunk(label string, p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enc.EncodeText(label)
	w.enc.EncodeString(p)
	if err := w.enc.Flush(); err != nil {
		return fmt.Errorf("writing %s chunk: %w", label, err)
	}
	return nil
}

// Finish sends the exit code and closes the outer list.
func (w *ResponseWriter) Finish(exitCode int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enc.EncodeText(LabelExitCode)
	w.enc.EncodeInteger(int64(exitCode))
	w.enc.EncodeListEnd()
	if err := w.enc.Flush(); err != nil {
		return fmt.Errorf("writing exit code: %w", err)
	}
	return nil
}

// Event is one decoded element of a response.
type Event struct {
	// Label is LabelStdout, LabelStderr or LabelExitCode.
	Label    string
	Data     []byte
	ExitCode int
}

// Exited reports whether this is the terminal exit code event.
func (e Event) Exited() bool { return e.Label == LabelExitCode }

// ResponseReader is the caller side of the response envelope.
type ResponseReader struct {
	dec  *bencode.Decoder
	done bool
}

func NewResponseReader(dec *bencode.Decoder) *ResponseReader {
	return &ResponseReader{dec: dec}
}

// ReadHandshake waits for the server's readiness marker.
func (r *ResponseReader) ReadHandshake() error {
	if err := r.dec.DecodeListStart(); err != nil {
		return fmt.Errorf("reading handshake: %w", err)
	}
	return nil
}

// Next returns the next output chunk or the exit code. After the exit code
// event the closing list end has been consumed and Next must not be called again.
func (r *ResponseReader) Next() (Event, error) {
	if r.done {
		return Event{}, fmt.Errorf("response already finished")
	}
	label, err := r.dec.DecodeText()
	if err != nil {
		return Event{}, fmt.Errorf("reading response label: %w", err)
	}
	switch label {
	case LabelStdout, LabelStderr:
		data, err := r.dec.DecodeString()
		if err != nil {
			return Event{}, fmt.Errorf("reading %s chunk: %w", label, err)
		}
		return Event{Label: label, Data: data}, nil
	case LabelExitCode:
		code, err := r.dec.DecodeInteger()
		if err != nil {
			return Event{}, fmt.Errorf("reading exit code: %w", err)
		}
		if err := r.dec.DecodeListEnd(); err != nil {
			return Event{}, fmt.Errorf("reading response end: %w", err)
		}
		r.done = true
		return Event{Label: label, ExitCode: int(code)}, nil
	default:
		return Event{}, &bencode.ProtocolError{
			Op:     "response label",
			Offset: r.dec.Offset(),
			Err:    fmt.Errorf("%w: unexpected %q", bencode.ErrLabelMismatch, label),
		}
	}
}
