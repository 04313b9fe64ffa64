package relay

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/slighter12/graph-livesync/logger"
)

// RegisterRoutes mounts the info, status and websocket endpoints.
func RegisterRoutes(e *echo.Echo, s *Server) {
	path := s.config.Path
	if path == "" {
		path = "/ws"
	}
	e.GET("/", s.handleHTTPInfo)
	e.GET("/status", s.handleStatus)
	e.GET(path, s.handleWebSocket)
}

func (s *Server) handleHTTPInfo(c echo.Context) error {
	logger.Debug("HTTP info requested", "remote_addr", c.RealIP())
	info := map[string]any{
		"version":            "0.1.0",
		"type":               "graph-livesync-relay",
		"websocket_endpoint": s.config.Path,
		"roles":              []string{"editor", "viewer"},
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleStatus(c echo.Context) error {
	peers := s.hub.Peers()
	return c.JSON(http.StatusOK, map[string]any{
		"peers": peers,
		"count": len(peers),
	})
}

func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "remote_addr", c.RealIP(), "error", err)
		return nil
	}
	s.servePeer(conn)
	return nil
}
