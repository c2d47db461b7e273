package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"nhooyr.io/websocket"
)

// gatewayReadLimit bounds a single WebSocket message. Both sides write at most one
// encoder flush per message, so this only needs to cover the largest single frame.
const gatewayReadLimit = 1 << 20

// Handler returns the HTTP handler of the WebSocket gateway.
//
// GET /session upgrades to a WebSocket whose binary messages carry exactly the bytes of
// the Unix socket protocol, and runs an ordinary session over it.
// GET /heartbeat reports the number of active sessions.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/heartbeat", s.heartbeat)
	router.GET("/session", s.sessionWS)
	return router
}

func (s *Server) serveGateway(ctx context.Context) error {
	tcpListener, err := net.Listen("tcp", s.gatewayAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	server := &http.Server{
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	s.log.Infow("gateway listening", "Addr", tcpListener.Addr().String())
	err = server.Serve(tcpListener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) sessionWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	s.log.Debug("accepted WebSocket conn")
	wsConn.SetReadLimit(gatewayReadLimit)

	conn := websocket.NetConn(r.Context(), wsConn, websocket.MessageBinary)
	s.ServeConn(r.Context(), conn)
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	response := struct {
		ActiveSessions int64
	}{
		ActiveSessions: s.ActiveSessions(),
	}
	b, err := json.Marshal(response)
	if err != nil {
		s.log.Debugf("error marshaling heartbeat response: %s", err)
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}
