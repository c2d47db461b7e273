package envelope

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kojan/daiyousei/bencode"
)

// Labels that precede values in the request and response envelopes.
const (
	LabelArgv     = "argv"
	LabelCwd      = "cwd"
	LabelEnv      = "env"
	LabelStdin    = "stdin"
	LabelStdout   = "stdout"
	LabelStderr   = "stderr"
	LabelExitCode = "exitcode"
)

var (
	ErrEmptyArgv = errors.New("argv must contain at least the program name")
	ErrOddEnv    = errors.New("env entry has a key but no value")
)

// EnvVar is one environment entry as sent by the caller.
type EnvVar struct {
	Key   string
	Value string
}

func (v EnvVar) String() string { return v.Key + "=" + v.Value }

// Env is an ordered list of environment entries. Keys are not required to be
// unique; later entries shadow earlier ones.
type Env []EnvVar

// Lookup returns the value of the last entry for key.
func (e Env) Lookup(key string) (string, bool) {
	for i := len(e) - 1; i >= 0; i-- {
		if e[i].Key == key {
			return e[i].Value, true
		}
	}
	return "", false
}

// ParseEnv builds an Env from "KEY=VALUE" strings, as found in os.Environ.
// Entries without "=" get an empty value.
func ParseEnv(kvs []string) Env {
	env := make(Env, 0, len(kvs))
	for _, kv := range kvs {
		k, v, _ := strings.Cut(kv, "=")
		env = append(env, EnvVar{Key: k, Value: v})
	}
	return env
}

// Request is the fixed-order preamble of a request: argv, cwd, env.
// Stdin chunks that follow it are read through a StdinReader.
type Request struct {
	Argv []string
	Cwd  string
	Env  Env
}

// Program returns the base name of argv[0], which selects the application.
func (r *Request) Program() string {
	if len(r.Argv) == 0 {
		return ""
	}
	return filepath.Base(r.Argv[0])
}

// Args returns the arguments after the program name.
func (r *Request) Args() []string {
	if len(r.Argv) < 2 {
		return nil
	}
	return r.Argv[1:]
}

// ReadRequest decodes the request preamble. It consumes the outer list start and the
// argv, cwd and env fields in that order, leaving the decoder positioned at the first
// stdin chunk or the closing list end.
func ReadRequest(dec *bencode.Decoder) (*Request, error) {
	if err := dec.DecodeListStart(); err != nil {
		return nil, fmt.Errorf("reading request start: %w", err)
	}

	if err := dec.ExpectLabel(LabelArgv); err != nil {
		return nil, err
	}
	argv, err := readStringList(dec)
	if err != nil {
		return nil, fmt.Errorf("reading argv: %w", err)
	}
	if len(argv) == 0 {
		return nil, &bencode.ProtocolError{Op: LabelArgv, Offset: dec.Offset(), Err: ErrEmptyArgv}
	}

	if err := dec.ExpectLabel(LabelCwd); err != nil {
		return nil, err
	}
	cwd, err := dec.DecodeText()
	if err != nil {
		return nil, fmt.Errorf("reading cwd: %w", err)
	}

	if err := dec.ExpectLabel(LabelEnv); err != nil {
		return nil, err
	}
	kvs, err := readStringList(dec)
	if err != nil {
		return nil, fmt.Errorf("reading env: %w", err)
	}
	if len(kvs)%2 != 0 {
		return nil, &bencode.ProtocolError{Op: LabelEnv, Offset: dec.Offset(), Err: ErrOddEnv}
	}
	env := make(Env, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		env = append(env, EnvVar{Key: kvs[i], Value: kvs[i+1]})
	}

	return &Request{Argv: argv, Cwd: cwd, Env: env}, nil
}

func readStringList(dec *bencode.Decoder) ([]string, error) {
	if err := dec.DecodeListStart(); err != nil {
		return nil, err
	}
	var out []string
	for {
		more, err := dec.HasString()
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
		s, err := dec.DecodeText()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := dec.DecodeListEnd(); err != nil {
		return nil, err
	}
	return out, nil
}

// RequestWriter is the caller side of the request envelope. Methods are safe for concurrent use,
// so stdin can be streamed from one goroutine while another closes it.
type RequestWriter struct {
	mu  sync.Mutex
	enc *bencode.Encoder
}

func NewRequestWriter(enc *bencode.Encoder) *RequestWriter {
	return &RequestWriter{enc: enc}
}

// WriteRequest sends the outer list start and the argv, cwd and env fields.
func (w *RequestWriter) WriteRequest(req *Request) error {
	if len(req.Argv) == 0 {
		return ErrEmptyArgv
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.enc
	e.EncodeListStart()
	e.EncodeText(LabelArgv)
	e.EncodeListStart()
	for _, a := range req.Argv {
		e.EncodeText(a)
	}
	e.EncodeListEnd()
	e.EncodeText(LabelCwd)
	e.EncodeText(req.Cwd)
	e.EncodeText(LabelEnv)
	e.EncodeListStart()
	for _, kv := range req.Env {
		e.EncodeText(kv.Key)
		e.EncodeText(kv.Value)
	}
	e.EncodeListEnd()
	if err := e.Flush(); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}
	return nil
}

// WriteStdin sends one stdin chunk. Empty chunks are not sent.
func (w *RequestWriter) WriteStdin(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enc.EncodeText(LabelStdin)
	w.enc.EncodeString(p)
	if err := w.enc.Flush(); err != nil {
		return fmt.Errorf("writing stdin: %w", err)
	}
	return nil
}

// CloseStdin ends the request, which the server reports to the application as end of input.
func (w *RequestWriter) CloseStdin() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enc.EncodeListEnd()
	if err := w.enc.Flush(); err != nil {
		return fmt.Errorf("closing stdin: %w", err)
	}
	return nil
}
