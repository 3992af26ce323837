package api

import (
	"context"
	"net/http"

	"ms-attendance/internal/logger"
	"ms-attendance/internal/member"
	"ms-attendance/internal/models"
	"ms-attendance/internal/utils"

	"github.com/go-chi/chi/v5"
)

type MemberService interface {
	CreateMember(ctx context.Context, req member.CreateRequest) (*member.Created, error)
	GetMember(ctx context.Context, id string) (*models.Member, error)
	ListMembers(ctx context.Context, status models.MemberStatus) ([]models.Member, error)
	WithdrawMember(ctx context.Context, id string) (*models.Member, error)
}

type Handler struct {
	Service MemberService
	Logger  *logger.Logger
}

func NewHandler(service MemberService, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// RegisterRoutes mounts the admin roster endpoints under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/admin/members", func(r chi.Router) {
		r.Get("/", h.ListMembers)
		r.Post("/", h.CreateMember)
		r.Get("/{memberId}", h.GetMember)
		r.Delete("/{memberId}", h.WithdrawMember)
	})
}

func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req member.CreateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	created, err := h.Service.CreateMember(r.Context(), req)
	if err != nil {
		h.fail(w, "CreateMember", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("member created", created))
}

func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.Service.GetMember(r.Context(), chi.URLParam(r, "memberId"))
	if err != nil {
		h.fail(w, "GetMember", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("", m))
}

// ListMembers accepts ?status=ACTIVE|WITHDRAWN.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Service.ListMembers(r.Context(), models.MemberStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, "ListMembers", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("", members))
}

// WithdrawMember answers DELETE; the row is kept with status WITHDRAWN.
func (h *Handler) WithdrawMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.Service.WithdrawMember(r.Context(), chi.URLParam(r, "memberId"))
	if err != nil {
		h.fail(w, "WithdrawMember", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("member withdrawn", m))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status := utils.WriteError(w, err); status >= http.StatusInternalServerError {
		h.Logger.Error("MEMBER", op+" failed: "+err.Error())
	}
}
