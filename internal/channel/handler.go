package channel

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"shopchat/internal/apperr"
	"shopchat/internal/httpx"
	myMiddleware "shopchat/internal/middleware"
)

// Notifier pushes new-channel-added to the members of a fresh channel.
type Notifier interface {
	NotifyChannelCreated(ctx context.Context, ch *Channel)
}

type Handler struct {
	svc      *Service
	notifier Notifier
	log      *zap.Logger
}

func NewHandler(svc *Service, notifier Notifier, log *zap.Logger) *Handler {
	return &Handler{svc: svc, notifier: notifier, log: log.Named("channels")}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	admin, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	var req CreateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}

	ch, err := h.svc.Create(r.Context(), admin, req)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	if h.notifier != nil {
		h.notifier.NotifyChannelCreated(r.Context(), ch)
	}
	httpx.JSON(w, http.StatusCreated, httpx.M{"channel": ch})
}

func (h *Handler) UserChannels(w http.ResponseWriter, r *http.Request) {
	id, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	channels, err := h.svc.ListForUser(r.Context(), id)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"channels": channels})
}

func (h *Handler) AllChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.svc.ListAll(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"channels": channels})
}

// withChannel resolves the caller and the channelId route parameter.
func (h *Handler) withChannel(w http.ResponseWriter, r *http.Request) (userID, channelID string, ok bool) {
	userID, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return "", "", false
	}
	channelID = chi.URLParam(r, "channelId")
	if channelID == "" {
		httpx.Error(w, h.log, apperr.Validation("channelId is required"))
		return "", "", false
	}
	return userID, channelID, true
}

func (h *Handler) ChannelMessages(w http.ResponseWriter, r *http.Request) {
	userID, channelID, ok := h.withChannel(w, r)
	if !ok {
		return
	}
	msgs, err := h.svc.Messages(r.Context(), userID, channelID)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"messages": msgs})
}

func (h *Handler) ChannelDetails(w http.ResponseWriter, r *http.Request) {
	userID, channelID, ok := h.withChannel(w, r)
	if !ok {
		return
	}
	details, err := h.svc.Details(r.Context(), userID, channelID)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"channel": details})
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, channelID, ok := h.withChannel(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.Leave(r.Context(), userID, channelID); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"message": "left channel", "channelId": channelID})
}

func (h *Handler) UpdateDescription(w http.ResponseWriter, r *http.Request) {
	userID, channelID, ok := h.withChannel(w, r)
	if !ok {
		return
	}
	var req struct {
		Description string `json:"description"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	ch, err := h.svc.UpdateDescription(r.Context(), userID, channelID, req.Description)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"channel": ch})
}

// Routes mounts the channel endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/create-channel", h.Create)
	r.Get("/get-user-channels", h.UserChannels)
	r.Get("/get-all-channels", h.AllChannels)
	r.Get("/get-channel-messages/{channelId}", h.ChannelMessages)
	r.Get("/get-channel-details/{channelId}", h.ChannelDetails)
	r.Post("/leave-channel/{channelId}", h.Leave)
	r.Put("/update-description/{channelId}", h.UpdateDescription)
}
