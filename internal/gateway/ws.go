package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/decahq/deca/internal/bus"
)

const wsWriteTimeout = 5 * time.Second

// handleWS streams bus events to the client as JSON frames. Each
// connection gets its own subscription; a slow client drops frames rather
// than blocking the broadcaster.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		slog.Debug("gateway: websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	events := make(chan bus.Event, 64)
	subID := "ws-" + uuid.NewString()
	s.events.Subscribe(subID, func(ev bus.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	defer s.events.Unsubscribe(subID)

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, map[string]any{
				"event":   ev.Name,
				"payload": ev.Payload,
			})
			cancel()
			if err != nil {
				return
			}
		}
	}
}
