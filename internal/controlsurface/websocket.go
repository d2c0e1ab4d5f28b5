package controlsurface

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// upgrader allows any origin: the control surface is an internal
// automation endpoint, not a browser-facing one, the same stance
// api_realtime's hub takes for its dashboard websocket.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// handleWebSocket attaches the connection as a subscriber to the global
// event bus (spec.md §4.8). The server sends an initial connection frame,
// then forwards every bus event as its own JSON text frame until the
// client disconnects, at which point the subscription is torn down.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warn("websocket upgrade failed", zap.Error(err))
		}
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	if err := writeFrame(conn, map[string]any{
		"type":      "connection",
		"status":    "connected",
		"timestamp": time.Now().UTC(),
	}); err != nil {
		return
	}

	// gorilla requires a reader goroutine to surface client-initiated
	// closes and keep the control-frame machinery (ping/pong) alive; this
	// connection never expects inbound application messages.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeFrame(conn, ev); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
