package api

import (
	"context"
	"net/http"

	"ms-attendance/internal/attendance"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
	"ms-attendance/internal/utils"

	"github.com/go-chi/chi/v5"
)

// AttendanceService is the kernel surface the handlers call.
type AttendanceService interface {
	CheckIn(ctx context.Context, tokenValue, memberID string) (*models.Attendance, error)
	RegisterAttendance(ctx context.Context, req attendance.RegisterRequest) (*models.Attendance, error)
	UpdateAttendance(ctx context.Context, attendanceID string, req attendance.UpdateRequest) (*models.Attendance, error)
	OpenAccount(ctx context.Context, req attendance.OpenAccountRequest) (*models.CohortMemberAccount, error)
	GetDepositHistory(ctx context.Context, accountID string) ([]models.DepositEvent, error)
	GetMemberSummary(ctx context.Context, memberID, cohortID string) (*models.AttendanceSummary, error)
	GetSessionSummary(ctx context.Context, sessionID string) ([]models.MemberAttendanceSummary, error)
	ListSessionAttendances(ctx context.Context, sessionID string) ([]models.Attendance, error)
	ListMemberAttendances(ctx context.Context, memberID string) ([]models.Attendance, error)
}

type Handler struct {
	Service AttendanceService
	Logger  *logger.Logger
}

func NewHandler(service AttendanceService, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// RegisterRoutes mounts the member and admin attendance endpoints under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/attendances/check-in", h.CheckIn)

	r.Route("/members/{memberId}", func(r chi.Router) {
		r.Get("/attendances", h.ListMemberAttendances)
		r.Get("/attendance-summary", h.GetMemberSummary)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/attendances", h.RegisterAttendance)
		r.Put("/attendances/{attendanceId}", h.UpdateAttendance)
		r.Get("/sessions/{sessionId}/attendances", h.ListSessionAttendances)
		r.Get("/sessions/{sessionId}/attendance-summary", h.GetSessionSummary)
		r.Post("/accounts", h.OpenAccount)
		r.Get("/accounts/{accountId}/deposits", h.GetDepositHistory)
	})
}

type checkInRequest struct {
	Token    string `json:"token"`
	MemberID string `json:"member_id"`
}

// CheckIn expects {"token": "...", "member_id": "..."}.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	record, err := h.Service.CheckIn(r.Context(), req.Token, req.MemberID)
	if err != nil {
		h.fail(w, "CheckIn", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("checked in", record))
}

func (h *Handler) RegisterAttendance(w http.ResponseWriter, r *http.Request) {
	var req attendance.RegisterRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	record, err := h.Service.RegisterAttendance(r.Context(), req)
	if err != nil {
		h.fail(w, "RegisterAttendance", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("attendance registered", record))
}

func (h *Handler) UpdateAttendance(w http.ResponseWriter, r *http.Request) {
	var req attendance.UpdateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	record, err := h.Service.UpdateAttendance(r.Context(), chi.URLParam(r, "attendanceId"), req)
	if err != nil {
		h.fail(w, "UpdateAttendance", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("attendance updated", record))
}

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req attendance.OpenAccountRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	acc, err := h.Service.OpenAccount(r.Context(), req)
	if err != nil {
		h.fail(w, "OpenAccount", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("account opened", acc))
}

func (h *Handler) GetDepositHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.Service.GetDepositHistory(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		h.fail(w, "GetDepositHistory", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("", events))
}

// GetMemberSummary accepts an optional ?cohort_id= to scope the tally and
// include the balance.
func (h *Handler) GetMemberSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.GetMemberSummary(r.Context(), chi.URLParam(r, "memberId"), r.URL.Query().Get("cohort_id"))
	if err != nil {
		h.fail(w, "GetMemberSummary", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("", summary))
}

func (h *Handler) GetSessionSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.GetSessionSummary(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.fail(w, "GetSessionSummary", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("", rows))
}

func (h *Handler) ListSessionAttendances(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.ListSessionAttendances(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.fail(w, "ListSessionAttendances", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("", records))
}

func (h *Handler) ListMemberAttendances(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.ListMemberAttendances(r.Context(), chi.URLParam(r, "memberId"))
	if err != nil {
		h.fail(w, "ListMemberAttendances", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("", records))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status := utils.WriteError(w, err); status >= http.StatusInternalServerError {
		h.Logger.Error("ATTENDANCE", op+" failed: "+err.Error())
	}
}
