package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opsagent/orchestrator/internal/streaming"
)

// StreamingHandler serves the live thinking stream of a conversation.
type StreamingHandler struct {
	bus       *streaming.Bus
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewStreamingHandler creates a handler reading from bus. A zero heartbeat
// disables keep-alive comments.
func NewStreamingHandler(bus *streaming.Bus, heartbeat time.Duration, logger *zap.Logger) *StreamingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingHandler{bus: bus, heartbeat: heartbeat, logger: logger}
}

// RegisterRoutes registers SSE and WebSocket routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations/{id}/thinking", h.handleSSE)
	mux.HandleFunc("GET /api/conversations/{id}/thinking/ws", h.handleWS)
}

// handleSSE streams progress notices for a conversation.
// GET /api/conversations/{id}/thinking[?types=invoked,finished]
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	filter := typeFilter(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	consumer := h.bus.Open(id)
	defer h.bus.Detach(consumer)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ctx := r.Context()
	notices := pump(ctx, consumer)

	var beat <-chan time.Time
	if h.heartbeat > 0 {
		t := time.NewTicker(h.heartbeat)
		defer t.Stop()
		beat = t.C
	}

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("conversation_id", id))
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if !filter.allows(n.Type) {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", strings.ReplaceAll(n.Message, "\n", " "))
			flusher.Flush()
		case <-beat:
			// Heartbeat to keep connections alive through proxies
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// pump moves notices off the consumer so the writer can also select on
// heartbeats. The channel closes at the end of the stream.
func pump(ctx context.Context, c *streaming.Consumer) <-chan streaming.Notice {
	out := make(chan streaming.Notice)
	go func() {
		defer close(out)
		for {
			n, ok := c.Next(ctx)
			if !ok {
				return
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

type types map[string]struct{}

func typeFilter(r *http.Request) types {
	f := types{}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f[t] = struct{}{}
			}
		}
	}
	return f
}

func (f types) allows(kind string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[kind]
	return ok
}
