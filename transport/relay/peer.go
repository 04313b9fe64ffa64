package relay

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/slighter12/graph-livesync/logger"
	"github.com/slighter12/graph-livesync/wire"
)

// servePeer pumps one connection until it fails. The caller's goroutine
// runs the read side.
func (s *Server) servePeer(conn *websocket.Conn) {
	peer := s.hub.Add()
	defer s.hub.Remove(peer.ID)
	defer conn.Close()

	go s.writePump(conn, peer)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		s.hub.Touch(peer.ID)
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket error", "client_id", peer.ID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		s.hub.Touch(peer.ID)

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		envelopes, err := wire.DecodeFrame(wire.Frame{Binary: messageType == websocket.BinaryMessage, Data: data})
		if err != nil {
			logger.Warn("Dropping undecodable frame", "client_id", peer.ID, "error", err)
		}
		for _, env := range envelopes {
			s.hub.Route(peer.ID, env)
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, peer *Peer) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case <-peer.closed:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case data := <-peer.send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Info("Relay write failed", "client_id", peer.ID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
