package poll

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"shopchat/internal/httpx"
	myMiddleware "shopchat/internal/middleware"
)

type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log.Named("polls")}
}

type voteRequest struct {
	PollID   string `json:"pollId"`
	OptionID string `json:"optionId"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	var req CreateRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	p, msg, err := h.svc.Create(r.Context(), userID, req)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, httpx.M{
		"message":   "poll created",
		"poll":      p.ViewFor(userID, h.svc.now()),
		"messageId": msg.ID,
	})
}

func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	var req voteRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	p, err := h.svc.Vote(r.Context(), userID, req.PollID, req.OptionID)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"message": "vote recorded", "poll": p.ViewFor(userID, h.svc.now())})
}

func (h *Handler) RemoveVote(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	var req voteRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	p, err := h.svc.RemoveVote(r.Context(), userID, req.PollID, req.OptionID)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"message": "vote removed", "poll": p.ViewFor(userID, h.svc.now())})
}

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	p, results, err := h.svc.Results(r.Context(), userID, chi.URLParam(r, "pollId"))
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{
		"poll": httpx.M{
			"_id":         p.ID,
			"title":       p.Title,
			"description": p.Description,
			"creator":     p.Creator,
			"totalVotes":  p.TotalVotes,
			"isExpired":   p.IsExpired(h.svc.now()),
			"expiresAt":   p.ExpiresAt,
			"createdAt":   p.CreatedAt,
		},
		"results": results,
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	view, err := h.svc.Get(r.Context(), userID, chi.URLParam(r, "pollId"))
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{"poll": view})
}

func (h *Handler) ChatPolls(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.UserID(r.Context())
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	res, err := h.svc.ListForChat(r.Context(), userID,
		ChatType(chi.URLParam(r, "chatType")), chi.URLParam(r, "chatId"), page, limit)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.OK(w, httpx.M{
		"polls": res.Polls,
		"pagination": httpx.M{
			"currentPage": res.CurrentPage,
			"totalPolls":  res.TotalPolls,
			"hasMore":     res.HasMore,
		},
	})
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/create", h.Create)
	r.Post("/vote", h.Vote)
	r.Post("/remove-vote", h.RemoveVote)
	r.Get("/chat/{chatType}/{chatId}", h.ChatPolls)
	r.Get("/{pollId}/results", h.Results)
	r.Get("/{pollId}", h.Get)
}
