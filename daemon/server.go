package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kojan/daiyousei/app"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// DefaultSocketPath is used when no socket path is configured.
const DefaultSocketPath = "/tmp/daiyousei.socket"

// Server accepts connections on a Unix domain socket and runs one session per connection.
type Server struct {
	log      *zap.SugaredLogger
	registry *app.Registry

	socketPath     string
	sessionTimeout time.Duration
	gatewayAddr    string

	active atomic.Int64
}

type Option func(s *Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l.Named("daemon").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.log = s.log.WithOptions(zap.IncreaseLevel(l))
	}
}

func WithSocketPath(path string) Option {
	return func(s *Server) {
		s.socketPath = path
	}
}

// WithSessionTimeout bounds the lifetime of every session. Zero, the default, means no limit.
func WithSessionTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.sessionTimeout = d
	}
}

// WithGatewayAddr makes ListenAndServe also serve sessions over WebSocket on the given TCP address.
func WithGatewayAddr(addr string) Option {
	return func(s *Server) {
		s.gatewayAddr = addr
	}
}

// NewServer constructs a server that dispatches to the applications in registry.
func NewServer(registry *app.Registry, opts ...Option) (*Server, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		log:        logger.Named("daemon").Sugar(),
		registry:   registry,
		socketPath: DefaultSocketPath,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Server) SocketPath() string { return s.socketPath }

// ActiveSessions returns the number of sessions currently being served.
func (s *Server) ActiveSessions() int64 { return s.active.Load() }

// Listen removes any stale socket file and listens on the socket path.
func (s *Server) Listen() (net.Listener, error) {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	s.log.Infow("listening", "Path", s.socketPath, "Apps", s.registry.Names())
	return l, nil
}

// Serve accepts connections on l until ctx is cancelled or l is closed, running each
// connection's session in its own goroutine. It waits for active sessions before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	var sessions sync.WaitGroup
	defer sessions.Wait()

	var retryDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Debug("listener closed, waiting for active sessions")
				return nil
			}
			retryDelay = nextAcceptDelay(retryDelay)
			s.log.Warnw("accept error, retrying", "Error", err, "Delay", retryDelay)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
			}
			continue
		}
		retryDelay = 0
		s.log.Debug("accepted connection")

		sessions.Add(1)
		go func() {
			defer sessions.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// nextAcceptDelay doubles the wait after consecutive accept errors, e.g. when out of file descriptors.
func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	if next := prev * 2; next < maxAcceptDelay {
		return next
	}
	return maxAcceptDelay
}

// ListenAndServe listens on the socket path and serves until ctx is cancelled.
// If a gateway address is configured the WebSocket gateway is served alongside.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := s.Listen()
	if err != nil {
		return err
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.Serve(groupCtx, l)
	})
	if s.gatewayAddr != "" {
		group.Go(func() error {
			return s.serveGateway(groupCtx)
		})
	}
	return group.Wait()
}

// ServeConn runs a single session on conn and closes it. Failures never propagate past the session.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	s.active.Add(1)
	defer s.active.Add(-1)

	sess := newSession(s.log.Named("session"), conn, s.registry, s.sessionTimeout)
	defer func() {
		if r := recover(); r != nil {
			sess.log.Errorf("session panicked: %v\n%s", r, debug.Stack())
			sess.closeConn()
		}
	}()
	sess.run(ctx)
}
