package envelope

import (
	"io"
	"sync"

	"github.com/kojan/daiyousei/bencode"
)

// StdinReader presents the stdin chunks that follow a request preamble as an io.Reader.
// A chunk is only decoded once the previous one has been fully read, so reads block on
// the peer only when the application actually wants more input.
//
// When the closing list end arrives Read returns io.EOF, and keeps returning it.
// Decode errors are sticky as well.
type StdinReader struct {
	mu    sync.Mutex
	dec   *bencode.Decoder
	chunk []byte
	err   error
}

func NewStdinReader(dec *bencode.Decoder) *StdinReader {
	return &StdinReader{dec: dec}
}

func (r *StdinReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.chunk) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.err = r.next()
	}
	n := copy(p, r.chunk)
	r.chunk = r.chunk[n:]
	return n, nil
}

// Err returns the error that ended the stream, or nil if the stream is still open
// or ended normally.
func (r *StdinReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == io.EOF {
		return nil
	}
	return r.err
}

// next decodes the next stdin chunk into r.chunk, or consumes the end of the request.
func (r *StdinReader) next() error {
	more, err := r.dec.HasString()
	if err != nil {
		return err
	}
	if !more {
		if err := r.dec.DecodeListEnd(); err != nil {
			return err
		}
		return io.EOF
	}
	if err := r.dec.ExpectLabel(LabelStdin); err != nil {
		return err
	}
	chunk, err := r.dec.DecodeString()
	if err != nil {
		return err
	}
	r.chunk = chunk
	return nil
}
