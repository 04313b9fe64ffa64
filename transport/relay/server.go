// Package relay is the websocket hub that editors and viewers connect to.
// It assigns client ids and forwards envelopes between the two roles.
package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/slighter12/graph-livesync/config"
	"github.com/slighter12/graph-livesync/logger"
)

const (
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = pongTimeout * 9 / 10
	maxMessageSize = 16 << 20
	cleanupEvery   = time.Minute
	shutdownGrace  = 5 * time.Second
)

// Server is the relay's HTTP and websocket front end.
type Server struct {
	hub      *Hub
	config   config.Relay
	echo     *echo.Echo
	upgrader websocket.Upgrader
}

// NewServer builds a relay server for cfg. Nothing listens until Start.
func NewServer(cfg config.Relay) *Server {
	s := &Server{
		hub:    NewHub(),
		config: cfg,
		echo:   echo.New(),
		upgrader: websocket.Upgrader{
			// Viewers are served from arbitrary local origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.setupEcho()
	return s
}

func (s *Server) setupEcho() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	RegisterRoutes(s.echo, s)
}

// Handler exposes the HTTP handler, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Hub returns the peer registry behind the server.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.startCleanupGoroutine(ctx)

	addr := s.config.Addr()
	logger.Info("Relay server starting to listen", "address", addr, "path", s.config.Path)
	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(addr) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	// Hijacked websocket connections are not closed by Shutdown.
	s.hub.CloseAll()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("Relay server stopped")
	return nil
}

func (s *Server) startCleanupGoroutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.hub.CleanupPeers(2 * pongTimeout); removed > 0 {
				logger.Info("Removed stale relay peers", "count", removed)
			}
		}
	}
}
