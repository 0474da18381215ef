package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/auth"
)

func (s *Server) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.allows,
	}
}

// wsToken reads the access token from the token query parameter or from an
// Authorization: Bearer header.
func wsToken(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	return auth.BearerToken(r.Header.Get("Authorization"))
}

// WebSocketHandler checks the origin and the access token, upgrades the
// connection and hands it to the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if !s.origins.check(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	user, err := s.accounts.Authenticate(r.Context(), wsToken(r))
	if err != nil {
		s.log.Info("websocket handshake rejected", zap.String("addr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "Could not validate credentials", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, s.hub, s.cfg, user.ID, r.RemoteAddr, s.protocol)
	if err := s.hub.Serve(client); err != nil {
		s.log.Info("refusing connection", zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()
	}
}

// HealthHandler responds with a plain text status line.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	users, rooms := s.hub.Stats()
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomchat server is running! online=%d rooms=%d", users, rooms)
}
