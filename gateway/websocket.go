package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/devicewatch/store"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	// wsSendDepth bounds per-client snapshot buffering; a slow client skips
	// intermediate snapshots instead of stalling the store.
	wsSendDepth = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway serves a trusted operator network.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsFrame is one pushed snapshot update.
type wsFrame struct {
	Type   string        `json:"type"`
	Status statusPayload `json:"status"`
	Stats  any           `json:"stats,omitempty"`
}

// handleWebSocket upgrades the connection and pushes a frame for every
// published snapshot until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.NewString()
	logger := s.logger.With("client_id", clientID)
	logger.Info("websocket client connected", "remote", r.RemoteAddr)

	s.wsClients.Add(1)
	if s.metrics != nil {
		s.metrics.wsClients.Set(float64(s.wsClients.Load()))
	}
	defer func() {
		s.wsClients.Add(-1)
		if s.metrics != nil {
			s.metrics.wsClients.Set(float64(s.wsClients.Load()))
		}
		conn.Close()
		logger.Info("websocket client disconnected")
	}()

	snapshots, cancel := s.store.Subscribe(wsSendDepth)
	defer cancel()

	// Reader goroutine: we never expect client frames, but reading is how the
	// close handshake and connection loss are detected.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				// Store is shutting down.
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					deadline)
				return
			}
			if err := s.writeSnapshot(conn, snap); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-pingTicker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn, snap store.Snapshot) error {
	frame := wsFrame{
		Type:   "snapshot",
		Status: statusFromSnapshot(snap),
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(frame)
}
