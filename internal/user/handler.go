package user

import (
	"net/http"

	"go.uber.org/zap"

	"shopchat/internal/httpx"
	myMiddleware "shopchat/internal/middleware"
)

type Handler struct {
	Service *Service
	log     *zap.Logger
}

func NewHandler(s *Service, log *zap.Logger) *Handler {
	return &Handler{Service: s, log: log.Named("users")}
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}

	res, err := h.Service.Signup(r.Context(), req)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, httpx.M{"user": res.User, "token": res.Token})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}

	res, err := h.Service.Login(r.Context(), req)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"user": res.User, "token": res.Token})
}

func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	id, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	u, err := h.Service.UserInfo(r.Context(), id)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"user": u})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	var req ProfileUpdate
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	u, err := h.Service.UpdateProfile(r.Context(), id, req)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"user": u})
}

func (h *Handler) GetAllContacts(w http.ResponseWriter, r *http.Request) {
	id, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	contacts, err := h.Service.AllContacts(r.Context(), id)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"contacts": contacts})
}

func (h *Handler) SearchContacts(w http.ResponseWriter, r *http.Request) {
	id, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	var req struct {
		SearchTerm string `json:"searchTerm"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	users, err := h.Service.SearchContacts(r.Context(), id, req.SearchTerm)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"contacts": users})
}

func (h *Handler) GetContactsForDM(w http.ResponseWriter, r *http.Request) {
	id, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	contacts, err := h.Service.ContactsForDM(r.Context(), id)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"contacts": contacts})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	var req struct {
		IsOnline bool `json:"isOnline"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	if err := h.Service.UpdateStatus(r.Context(), id, req.IsOnline); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"message": "status updated", "isOnline": req.IsOnline})
}

func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.OnlineUsers(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"users": users})
}
