package daemon

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kojan/daiyousei/app"
	"github.com/kojan/daiyousei/bencode"
	"github.com/kojan/daiyousei/envelope"
	"github.com/kojan/daiyousei/internal/netutil"
	"go.uber.org/zap"
)

type state int

const (
	stateHandshaking state = iota
	stateParsingEnvelope
	stateDispatching
	stateRunning
	stateFinalizing
	stateClosed
	stateAborted
)

func (s state) String() string {
	switch s {
	case stateHandshaking:
		return "handshaking"
	case stateParsingEnvelope:
		return "parsing_envelope"
	case stateDispatching:
		return "dispatching"
	case stateRunning:
		return "running"
	case stateFinalizing:
		return "finalizing"
	case stateClosed:
		return "closed"
	case stateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// session handles one accepted connection from handshake to close.
//
// log is fixed at construction since the ctx watcher reads it from its own goroutine.
// reqLog adds the program once the request is parsed and is only touched by run.
type session struct {
	id       string
	log      *zap.SugaredLogger
	reqLog   *zap.SugaredLogger
	conn     net.Conn
	registry *app.Registry
	timeout  time.Duration

	state    state
	dec      *bencode.Decoder
	resp     *envelope.ResponseWriter
	req      *envelope.Request
	exitCode int

	closeConnOnce sync.Once
}

func newSession(log *zap.SugaredLogger, conn net.Conn, registry *app.Registry, timeout time.Duration) *session {
	id := uuid.NewString()
	return &session{
		id:       id,
		log:      log.With("Session", id),
		reqLog:   log.With("Session", id),
		conn:     conn,
		registry: registry,
		timeout:  timeout,
		dec:      bencode.NewDecoder(conn),
		resp:     envelope.NewResponseWriter(bencode.NewEncoder(conn)),
	}
}

func (s *session) transition(to state) {
	s.reqLog.Debugf("%s -> %s", s.state, to)
	s.state = to
}

func (s *session) closeConn() {
	s.closeConnOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.log.Debugf("error closing conn: %s", err)
		}
	})
}

// run drives the session to completion. Blocked reads and writes are
// unblocked by closing the connection once ctx is done.
func (s *session) run(ctx context.Context) {
	var cancel context.CancelFunc
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	go func() {
		<-ctx.Done()
		s.closeConn()
	}()

	start := time.Now()
	err := s.serve(ctx)
	if err != nil {
		s.abort(ctx, err)
		return
	}
	s.closeConn()
	s.transition(stateClosed)
	s.reqLog.Debugw("session finished", "ExitCode", s.exitCode, "TimeMS", time.Since(start).Milliseconds())
}

func (s *session) serve(ctx context.Context) error {
	s.transition(stateHandshaking)
	if err := s.resp.Handshake(); err != nil {
		return err
	}

	s.transition(stateParsingEnvelope)
	req, err := envelope.ReadRequest(s.dec)
	if err != nil {
		return err
	}
	s.req = req
	s.reqLog = s.log.With("Program", req.Program())
	s.reqLog.Debugw("got request", "Args", req.Args(), "Cwd", req.Cwd, "Env", len(req.Env))

	s.transition(stateDispatching)
	stdout := envelope.NewChunkWriter(s.resp, envelope.LabelStdout)
	stderr := envelope.NewChunkWriter(s.resp, envelope.LabelStderr)
	stdin := envelope.NewStdinReader(s.dec)

	application, ok := s.registry.Lookup(req.Argv[0])
	if ok {
		s.transition(stateRunning)
		s.exitCode, err = s.runApplication(ctx, application, stdin, stdout, stderr)
		if err != nil {
			return err
		}
		// A malformed stdin chunk is still a protocol error even though the application saw it first.
		if err := stdin.Err(); err != nil {
			return err
		}
	} else {
		dispatchErr := &DispatchError{Program: req.Program()}
		s.reqLog.Infof("dispatch failed: %s", dispatchErr)
		fmt.Fprintf(stderr, "daiyousei: %s\n", dispatchErr)
		s.exitCode = ExitCommandNotFound
	}

	s.transition(stateFinalizing)
	if err := stdout.Close(); err != nil {
		return err
	}
	if err := stderr.Close(); err != nil {
		return err
	}
	return s.resp.Finish(s.exitCode)
}

// runApplication runs the application to completion. Failures of the application itself
// are reported on stderr and become the exit code; the returned error is only set when
// the connection itself has failed or the session context is done.
func (s *session) runApplication(ctx context.Context, a app.Application, stdin *envelope.StdinReader, stdout, stderr *envelope.ChunkWriter) (int, error) {
	if _, err := fmt.Fprintf(stderr, "Running app: %s\n", s.req.Argv[0]); err != nil {
		return 0, err
	}
	inv := &app.Invocation{
		Name:   s.req.Argv[0],
		Args:   s.req.Args(),
		Env:    s.req.Env,
		Cwd:    s.req.Cwd,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	}

	start := time.Now()
	code, err := s.invoke(ctx, a, inv)
	if ctxErr := ctx.Err(); ctxErr != nil {
		// The session is being torn down; whatever the application returned is not reported.
		return 0, ctxErr
	}
	if err != nil {
		appErr := &ApplicationError{Program: s.req.Program(), Err: err}
		s.reqLog.Warnw("application failed", "Error", appErr)
		fmt.Fprintf(stderr, "%s\n", appErr)
		return ExitFailure, nil
	}
	s.reqLog.Debugw("application returned", "ExitCode", code, "TimeMS", time.Since(start).Milliseconds())
	return code, nil
}

func (s *session) invoke(ctx context.Context, a app.Application, inv *app.Invocation) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.reqLog.Errorf("application panicked: %v\n%s", r, debug.Stack())
			code, err = ExitFailure, fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Run(ctx, inv)
}

func (s *session) abort(ctx context.Context, err error) {
	prev := s.state
	s.closeConn()
	s.transition(stateAborted)
	switch {
	case ctx.Err() != nil:
		s.reqLog.Infow("session cancelled", "State", prev, "Reason", ctx.Err())
	case bencode.IsProtocolError(err):
		s.reqLog.Warnw("protocol error, closing connection", "State", prev, "Error", err)
	case netutil.IsExpectedCloseError(err):
		s.reqLog.Debugw("peer closed connection", "State", prev, "Error", err)
	default:
		s.reqLog.Warnw("transport error, closing connection", "State", prev, "Error", err)
	}
}
