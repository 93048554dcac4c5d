package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soundpost/soundpost/monitor"
)

// WebSocket timeout constants following Gorilla best practices
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The server binds to loopback only; cross-origin browser pages on
	// the same machine are still allowed to watch
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and streams a snapshot on every
// pipeline state change until the client disconnects
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	s.log.Debugw("WebSocket client connected", "remote", conn.RemoteAddr().String())

	updates := s.mon.Subscribe()
	done := make(chan struct{})

	go s.readPump(conn, done)
	s.writePump(conn, updates, done)

	s.mon.Unsubscribe(updates)
	conn.Close()
	s.log.Debugw("WebSocket client disconnected", "remote", conn.RemoteAddr().String())
}

// readPump drains the connection so pings/pongs and close frames are
// processed. Clients are watch-only; incoming payloads are discarded.
func (s *Server) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				s.log.Warnw("WebSocket read error", "error", err)
			}
			return
		}
	}
}

// writePump sends the initial snapshot, then one snapshot per state
// change, with periodic pings to keep the connection alive
func (s *Server) writePump(conn *websocket.Conn, updates chan monitor.Snapshot, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(s.mon.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case snap := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
