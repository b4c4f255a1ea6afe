package server

import (
	"github.com/gofiber/contrib/websocket"

	"playground/internal/render"
)

type streamMessage struct {
	Type  string        `json:"type"`
	Frame *render.Frame `json:"frame,omitempty"`
	Error string        `json:"error,omitempty"`
}

// stream pushes the current frame and then every published frame until the
// client disconnects or the playground closes.
func (s *Server) stream(conn *websocket.Conn) {
	frames, unsubscribe := s.pg.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	frame, err := s.pg.Frame()
	if err != nil {
		_ = conn.WriteJSON(streamMessage{Type: "error", Error: err.Error()})
		return
	}
	if err := conn.WriteJSON(streamMessage{Type: "frame", Frame: &frame}); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case next, ok := <-frames:
			if !ok {
				return
			}
			if err := conn.WriteJSON(streamMessage{Type: "frame", Frame: &next}); err != nil {
				return
			}
		}
	}
}
