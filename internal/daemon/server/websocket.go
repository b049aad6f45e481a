package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/trail/pkg/models"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Only local processes can reach the unix socket.
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleWebSocket accepts JSON commands from the client and streams every
// emitted event back. Command results arrive as events, like in the UI
// protocol.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.intake == nil || s.hub == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(events)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	s.logger.Debug("WebSocket client connected")
	if ev, ok := s.hub.Latest(models.EventUpdateWatched); ok {
		select {
		case events <- ev:
		default:
		}
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).Debug("WebSocket read failed")
			}
			break
		}
		// Failures are already reported to the client as error events.
		_ = s.intake.HandleRaw(ctx, msg)
	}

	cancel()
	<-writerDone
	s.logger.Debug("WebSocket client disconnected")
}
