package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// LastSeenSource reports when a user last went offline, if known.
type LastSeenSource interface {
	LastSeen(ctx context.Context, userID int64) (time.Time, bool, error)
}

// Deps are the collaborators a Server is built from. Presence is optional.
type Deps struct {
	Hub      *Hub
	Accounts *chat.Accounts
	Chats    *chat.Service
	Presence LastSeenSource
	Log      *zap.Logger
}

// Server owns the HTTP surface: WebSocket handshakes and the REST API.
type Server struct {
	cfg      *Config
	hub      *Hub
	protocol *Protocol
	accounts *chat.Accounts
	chats    *chat.Service
	presence LastSeenSource
	origins  *originPolicy
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// New builds a Server from cfg and deps.
func New(cfg *Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		hub:      deps.Hub,
		protocol: NewProtocol(deps.Hub, deps.Chats, cfg, deps.Log),
		accounts: deps.Accounts,
		chats:    deps.Chats,
		presence: deps.Presence,
		origins:  newOriginPolicy(cfg.AllowedOrigins, deps.Log),
		log:      deps.Log,
	}
	s.upgrader = s.newUpgrader()
	return s
}

// CreateServer creates and configures the HTTP server with security settings.
// WriteTimeout stays zero so hijacked WebSocket connections are not cut off.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it exits. A server
// closed by ShutdownServer returns nil.
func StartServer(srv *http.Server, log *zap.Logger) error {
	log.Info("server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen and serve")
	}
	return nil
}

// ShutdownServer stops accepting requests and waits for in-flight ones, then
// closes the hub's live connections.
func ShutdownServer(srv *http.Server, hub *Hub, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	httpErr := srv.Shutdown(ctx)
	hubErr := hub.Shutdown(timeout)
	if httpErr != nil {
		return errors.Wrap(httpErr, "shutdown http server")
	}
	return errors.Wrap(hubErr, "shutdown hub")
}
