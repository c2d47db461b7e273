package envelope

import (
	"io"
	"sync"
)

// ChunkSize is the capacity of a ChunkWriter; no output chunk carries more than this many bytes.
const ChunkSize = 500

// ChunkWriter is an output channel bound to a single label. Bytes are buffered up to
// ChunkSize and emitted as one labeled chunk whenever the buffer fills. Anything still
// buffered when Write returns is flushed, so output reaches the peer as soon as the
// application writes it rather than when it exits.
type ChunkWriter struct {
	mu     sync.Mutex
	rw     *ResponseWriter
	label  string
	buf    []byte
	closed bool
}

func NewChunkWriter(rw *ResponseWriter, label string) *ChunkWriter {
	return &ChunkWriter{
		rw:    rw,
		label: label,
		buf:   make([]byte, 0, ChunkSize),
	}
}

// Label returns the label this writer emits, e.g. "stdout".
func (w *ChunkWriter) Label() string { return w.label }

func (w *ChunkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	written := 0
	for len(p) > 0 {
		n := copy(w.buf[len(w.buf):cap(w.buf)], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		if len(w.buf) == cap(w.buf) {
			if err := w.flush(); err != nil {
				return written, err
			}
		}
		written += n
	}
	if err := w.flush(); err != nil {
		return written, err
	}
	return written, nil
}

func (w *ChunkWriter) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	err := w.rw.WriteChunk(w.label, w.buf)
	w.buf = w.buf[:0]
	return err
}

// Flush emits any buffered bytes as one chunk.
func (w *ChunkWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

// Close flushes buffered bytes. Later writes fail with io.ErrClosedPipe.
func (w *ChunkWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.flush()
}
