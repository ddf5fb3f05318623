package transport

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kapu/arena-relay/internal/config"
	"github.com/kapu/arena-relay/internal/obslog"
	"github.com/kapu/arena-relay/internal/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Server accepts websocket sessions on /ws. Identity arrives either as a
// userId query parameter at handshake or as a joinLobby event; a socket
// that does neither within the auth timeout is dropped.
type Server struct {
	cfg    *config.AppConfig
	router *Router
}

func NewServer(cfg *config.AppConfig, router *Router) *Server {
	return &Server{cfg: cfg, router: router}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	conn := newConn(ws, s.cfg.SendQueueSize)
	go conn.writeLoop()
	go conn.pingLoop(s.cfg.PingInterval)

	identity := strings.TrimSpace(r.URL.Query().Get("userId"))
	if identity != "" && identity != "null" && identity != "undefined" {
		obslog.L().Info("conn_open", zap.String("conn", conn.ID()), zap.String("identity", identity))
		s.router.HandleJoin(conn, identity)
	} else {
		obslog.L().Info("conn_open_unauthed", zap.String("conn", conn.ID()))
		connRef := conn
		time.AfterFunc(s.cfg.AuthTimeout, func() {
			if !s.router.Authenticated(connRef) {
				obslog.L().Info("conn_auth_timeout", zap.String("conn", connRef.ID()))
				connRef.close(websocket.StatusPolicyViolation, "no identity announced")
			}
		})
	}

	s.readLoop(conn)
}

func (s *Server) readLoop(conn *Conn) {
	for {
		var env protocol.Envelope
		if err := wsjson.Read(context.Background(), conn.ws, &env); err != nil {
			obslog.L().Info("conn_close", zap.String("conn", conn.ID()))
			s.router.HandleDisconnect(conn)
			conn.close(websocket.StatusNormalClosure, "session ended")
			return
		}
		s.router.Dispatch(conn, env)
	}
}
