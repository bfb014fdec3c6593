package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opsagent/orchestrator/internal/plan"
	"github.com/opsagent/orchestrator/internal/session"
)

// Executor answers a query within a conversation.
type Executor interface {
	Execute(ctx context.Context, sessionID, query string, history []plan.Turn) string
}

// ConversationHandler serves conversation CRUD and message submission.
type ConversationHandler struct {
	store    session.Store
	executor Executor
	logger   *zap.Logger
}

// NewConversationHandler creates the handler.
func NewConversationHandler(store session.Store, executor Executor, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{store: store, executor: executor, logger: logger}
}

// RegisterRoutes registers conversation routes on the provided mux.
func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversations", h.handleCreate)
	mux.HandleFunc("GET /api/conversations", h.handleList)
	mux.HandleFunc("GET /api/conversations/{id}", h.handleGet)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.handleDelete)
	mux.HandleFunc("POST /api/conversations/{id}/messages", h.handleMessage)
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Response       string `json:"response"`
	DurationMS     int64  `json:"duration_ms"`
}

func (h *ConversationHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Create(r.Context(), userID(r))
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *ConversationHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context(), userID(r))
	if err != nil {
		h.storeError(w, err)
		return
	}
	if list == nil {
		list = []*session.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (h *ConversationHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ConversationHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), c.ID); err != nil {
		h.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMessage runs the query with the stored history and records both turns.
// POST /api/conversations/{id}/messages {"text": "..."}
func (h *ConversationHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}

	c, ok := h.owned(w, r)
	if !ok {
		return
	}

	start := time.Now()
	answer := h.executor.Execute(r.Context(), c.ID, req.Text, c.Turns())

	updated, err := h.store.AppendMessages(r.Context(), c.ID,
		session.Message{Role: "user", Text: req.Text, Timestamp: start},
		session.Message{Role: "assistant", Text: answer},
	)
	if err != nil {
		h.logger.Error("Failed to record messages", zap.String("conversation_id", c.ID), zap.Error(err))
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		ConversationID: c.ID,
		Title:          updated.Title,
		Response:       answer,
		DurationMS:     time.Since(start).Milliseconds(),
	})
}

// owned loads the path conversation and hides conversations of other users.
func (h *ConversationHandler) owned(w http.ResponseWriter, r *http.Request) (*session.Conversation, bool) {
	c, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.storeError(w, err)
		return nil, false
	}
	if c.UserID != "" && c.UserID != userID(r) {
		// Do not leak existence
		writeError(w, http.StatusNotFound, session.ErrConversationNotFound.Error())
		return nil, false
	}
	return c, true
}

func (h *ConversationHandler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrConversationNotFound), errors.Is(err, session.ErrConversationExpired):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("Conversation store failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "conversation store unavailable")
	}
}
