package api

import (
	"context"
	"net/http"

	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
	"ms-attendance/internal/session"
	"ms-attendance/internal/utils"

	"github.com/go-chi/chi/v5"
)

type SessionService interface {
	CreateSession(ctx context.Context, req session.CreateRequest) (*session.Created, error)
	UpdateSession(ctx context.Context, id string, req session.UpdateRequest) (*models.Session, error)
	CancelSession(ctx context.Context, id string) error
	GetSession(ctx context.Context, id string) (*models.SessionOverview, error)
	ListSessions(ctx context.Context, filter models.SessionFilter) ([]models.SessionOverview, error)
	IssueToken(ctx context.Context, sessionID string) (*models.AccessToken, error)
	RenewToken(ctx context.Context, tokenID string) (*models.AccessToken, error)
}

type Handler struct {
	Service SessionService
	Logger  *logger.Logger
}

func NewHandler(service SessionService, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// RegisterRoutes mounts the admin session endpoints under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/admin/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Post("/", h.CreateSession)
		r.Get("/{sessionId}", h.GetSession)
		r.Put("/{sessionId}", h.UpdateSession)
		r.Delete("/{sessionId}", h.CancelSession)
		r.Post("/{sessionId}/tokens", h.IssueToken)
	})
	r.Put("/admin/tokens/{tokenId}/renew", h.RenewToken)
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	created, err := h.Service.CreateSession(r.Context(), req)
	if err != nil {
		h.fail(w, "CreateSession", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("session created", created))
}

func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req session.UpdateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	updated, err := h.Service.UpdateSession(r.Context(), chi.URLParam(r, "sessionId"), req)
	if err != nil {
		h.fail(w, "UpdateSession", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("session updated", updated))
}

// CancelSession answers DELETE; the row is kept with status CANCELLED.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.CancelSession(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		h.fail(w, "CancelSession", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("session cancelled", nil))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	overview, err := h.Service.GetSession(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.fail(w, "GetSession", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("", overview))
}

// ListSessions filters on ?cohort_id=&date_from=&date_to=&status=.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.SessionFilter{
		CohortID: q.Get("cohort_id"),
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
		Status:   models.SessionStatus(q.Get("status")),
	}
	sessions, err := h.Service.ListSessions(r.Context(), filter)
	if err != nil {
		h.fail(w, "ListSessions", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("", sessions))
}

func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.Service.IssueToken(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.fail(w, "IssueToken", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("token issued", token))
}

func (h *Handler) RenewToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.Service.RenewToken(r.Context(), chi.URLParam(r, "tokenId"))
	if err != nil {
		h.fail(w, "RenewToken", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("token renewed", token))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status := utils.WriteError(w, err); status >= http.StatusInternalServerError {
		h.Logger.Error("SESSION", op+" failed: "+err.Error())
	}
}
