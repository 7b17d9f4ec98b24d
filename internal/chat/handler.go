package chat

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"shopchat/internal/httpx"
	myMiddleware "shopchat/internal/middleware"
)

// TokenValidator is what the websocket handshake needs from the user service.
type TokenValidator interface {
	ValidateToken(tokenString string) (userID, email string, err error)
}

type Handler struct {
	hub       *Hub
	validator TokenValidator
	upgrader  websocket.Upgrader
	log       *zap.Logger
}

func NewHandler(hub *Hub, validator TokenValidator, allowedOrigin string, log *zap.Logger) *Handler {
	return &Handler{
		hub:       hub,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
		log: log.Named("ws"),
	}
}

// ServeWs upgrades the request. A valid token registers the connection
// under its user; a missing token yields an anonymous connection that can
// only query presence; an invalid token is refused before the upgrade.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	var userID string
	if token := myMiddleware.TokenFromRequest(r); token != "" {
		id, _, err := h.validator.ValidateToken(token)
		if err != nil {
			h.log.Info("websocket handshake rejected", zap.Error(err))
			httpx.JSON(w, http.StatusUnauthorized, httpx.M{"message": "invalid token"})
			return
		}
		userID = id
	} else {
		h.log.Warn("websocket connected without a token, events requiring identity will be refused",
			zap.String("remote", r.RemoteAddr))
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h.hub, conn, userID)
	if userID != "" {
		h.hub.register(client)
	}

	go client.writePump()
	go client.readPump()
}
