package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Dev-friendly, secure via proxy in prod
}

// handleWS streams the same notices as handleSSE, one JSON frame each.
func (h *StreamingHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	filter := typeFilter(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	consumer := h.bus.Open(id)
	defer h.bus.Detach(consumer)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	// Reader pump (discard client messages); a read error means the client left.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	notices := pump(ctx, consumer)
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	// Writer pump
	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			h.logger.Info("WebSocket client disconnected", zap.String("conversation_id", id))
			return
		case n, ok := <-notices:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
					time.Now().Add(time.Second))
				return
			}
			if !filter.allows(n.Type) {
				continue
			}
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
