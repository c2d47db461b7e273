package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kojan/daiyousei/bencode"
	"github.com/kojan/daiyousei/envelope"
	"github.com/kojan/daiyousei/internal/netutil"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const readLimit = 1 << 20

// ErrIncompleteResponse means the connection ended before the daemon sent an exit code,
// for example because the request was rejected or the session timed out.
var ErrIncompleteResponse = errors.New("connection closed before exit code")

type Client struct {
	Logger *zap.SugaredLogger
	dial   func(ctx context.Context) (net.Conn, error)
}

// NewUnixClient returns a client for the daemon listening on the Unix socket at path.
func NewUnixClient(path string, log *zap.SugaredLogger) *Client {
	return &Client{
		Logger: log.Named("client"),
		dial: func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
}

// NewWebSocketClient returns a client for a daemon gateway session endpoint, e.g. ws://127.0.0.1:8080/session.
func NewWebSocketClient(url string, log *zap.SugaredLogger) *Client {
	return NewWebSocketClientWithHTTPClient(url, http.DefaultClient, log)
}

func NewWebSocketClientWithHTTPClient(url string, httpClient *http.Client, log *zap.SugaredLogger) *Client {
	c := &Client{Logger: log.Named("client")}
	c.dial = func(ctx context.Context) (net.Conn, error) {
		c.Logger.Debugw("dialing WebSocket", "URL", url)
		wsConn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPClient:      httpClient,
			CompressionMode: websocket.CompressionContextTakeover,
		})
		if err != nil {
			return nil, err
		}
		wsConn.SetReadLimit(readLimit)
		return websocket.NetConn(ctx, wsConn, websocket.MessageBinary), nil
	}
	return c
}

type Request struct {
	Argv []string
	Cwd  string
	Env  envelope.Env

	// Stdin is copied to the process until it returns io.EOF or an error. A nil Stdin sends no input.
	Stdin io.Reader
	// Stdout and Stderr receive the process output. Nil writers discard it.
	Stdout io.Writer
	Stderr io.Writer
}

type Result struct {
	ExitCode int
	TimeMS   int64
}

type Process struct {
	runner *procRunner
}

// Wait blocks until the process exits or ctx is done. Cancelling ctx does not stop the process;
// use the context passed to StartProc for that.
func (p *Process) Wait(ctx context.Context) (*Result, error) {
	return p.runner.wait(ctx)
}

// StartProc connects to the daemon, sends the request and starts streaming stdio.
// Cancelling ctx closes the connection, which aborts the remote session.
func (c *Client) StartProc(ctx context.Context, req Request) (*Process, error) {
	if len(req.Argv) == 0 {
		return nil, envelope.ErrEmptyArgv
	}
	ctx, cancel := context.WithCancel(ctx)
	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		c.Logger.Debugf("dial error: %s", err)
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}

	runner := &procRunner{
		log:    c.Logger.Named("proc_runner").With("Program", req.Argv[0]),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		req:    req,
		reqW:   envelope.NewRequestWriter(bencode.NewEncoder(conn)),
		respR:  envelope.NewResponseReader(bencode.NewDecoder(conn)),
		stdout: io.Discard,
		stderr: io.Discard,
		done:   make(chan struct{}),
	}
	if req.Stdout != nil {
		runner.stdout = req.Stdout
	}
	if req.Stderr != nil {
		runner.stderr = req.Stderr
	}

	if err := runner.run(); err != nil {
		return nil, err
	}
	return &Process{runner: runner}, nil
}

// Run starts the process and waits for it.
func (c *Client) Run(ctx context.Context, req Request) (*Result, error) {
	proc, err := c.StartProc(ctx, req)
	if err != nil {
		return nil, err
	}
	return proc.Wait(ctx)
}

type procRunner struct {
	log    *zap.SugaredLogger
	conn   net.Conn
	ctx    context.Context
	cancel func()
	req    Request

	reqW  *envelope.RequestWriter
	respR *envelope.ResponseReader

	stdout io.Writer
	stderr io.Writer

	start  time.Time
	done   chan struct{}
	result *Result
	err    error

	closeConnOnce sync.Once
}

func (r *procRunner) closeConn() {
	r.closeConnOnce.Do(func() {
		if err := r.conn.Close(); err != nil {
			r.log.Debugf("error closing conn: %s", err)
		}
	})
}

func (r *procRunner) run() error {
	go func() {
		<-r.ctx.Done()
		r.closeConn()
	}()

	r.start = time.Now()
	if err := r.respR.ReadHandshake(); err != nil {
		r.cancel()
		return fmt.Errorf("waiting for daemon: %w", err)
	}
	err := r.reqW.WriteRequest(&envelope.Request{
		Argv: r.req.Argv,
		Cwd:  r.req.Cwd,
		Env:  r.req.Env,
	})
	if err != nil {
		r.cancel()
		return fmt.Errorf("writing request: %w", err)
	}

	go r.writeStdin()
	go r.readResponse()
	return nil
}

func (r *procRunner) wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
		if r.result != nil {
			r.log.Debugw("process exited", "ExitCode", r.result.ExitCode, "TimeMS", r.result.TimeMS)
		}
		return r.result, r.err
	case <-ctx.Done():
		err := ctx.Err()
		r.log.Debugf("wait context done: %s", err)
		return nil, err
	}
}

func (r *procRunner) writeStdin() {
	defer func() {
		if err := r.reqW.CloseStdin(); err != nil {
			r.log.Debugf("error closing stdin: %s", err)
		}
	}()
	if r.req.Stdin == nil {
		return
	}
	buf := make([]byte, envelope.ChunkSize)
	for {
		n, err := r.req.Stdin.Read(buf)
		if n > 0 {
			if werr := r.reqW.WriteStdin(buf[:n]); werr != nil {
				// The process may exit without reading all of its input.
				r.log.Debugf("error writing stdin: %s", werr)
				return
			}
		}
		if err == io.EOF {
			r.log.Debug("done copying stdin")
			return
		}
		if err != nil {
			r.log.Debugw("error reading stdin", "Error", err)
			return
		}
	}
}

func (r *procRunner) readResponse() {
	defer r.cancel()
	defer close(r.done)
	for {
		ev, err := r.respR.Next()
		if err != nil {
			r.err = r.classify(err)
			r.log.Debugw("response reader got error", "Error", r.err)
			return
		}
		switch ev.Label {
		case envelope.LabelStdout:
			r.write(r.stdout, ev)
		case envelope.LabelStderr:
			r.write(r.stderr, ev)
		case envelope.LabelExitCode:
			r.result = &Result{ExitCode: ev.ExitCode, TimeMS: time.Since(r.start).Milliseconds()}
			return
		}
	}
}

func (r *procRunner) write(w io.Writer, ev envelope.Event) {
	if _, err := w.Write(ev.Data); err != nil {
		r.log.Debugf("%s writer got error: %s", ev.Label, err)
	}
}

func (r *procRunner) classify(err error) error {
	if ctxErr := r.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if netutil.IsExpectedCloseError(err) {
		return fmt.Errorf("%w: %s", ErrIncompleteResponse, err)
	}
	return err
}
