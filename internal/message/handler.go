package message

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"shopchat/internal/apperr"
	"shopchat/internal/httpx"
	myMiddleware "shopchat/internal/middleware"
)

type Reader interface {
	Conversation(ctx context.Context, a, b string) ([]*Message, error)
	UnreadCounts(ctx context.Context, viewer string) ([]UnreadCount, error)
}

// ReadMarker marks a conversation read and tells both sides about it.
type ReadMarker interface {
	MarkConversationRead(ctx context.Context, viewer, counterpart string) (int64, error)
}

type Handler struct {
	store  Reader
	marker ReadMarker
	log    *zap.Logger
}

func NewHandler(store Reader, marker ReadMarker, log *zap.Logger) *Handler {
	return &Handler{store: store, marker: marker, log: log.Named("messages")}
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	viewer, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	if req.ID == "" {
		httpx.Error(w, h.log, apperr.Validation("id is required"))
		return
	}

	msgs, err := h.store.Conversation(r.Context(), viewer, req.ID)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"messages": msgs})
}

func (h *Handler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	viewer, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	var req struct {
		SenderID string `json:"senderId"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	if req.SenderID == "" {
		httpx.Error(w, h.log, apperr.Validation("senderId is required"))
		return
	}

	n, err := h.marker.MarkConversationRead(r.Context(), viewer, req.SenderID)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"message": "messages marked as read", "modifiedCount": n})
}

func (h *Handler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	viewer, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	counts, err := h.store.UnreadCounts(r.Context(), viewer)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"unreadCounts": counts})
}
