package tokenrequests

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/senpai-platform/senpai/internal/api"
	"github.com/senpai-platform/senpai/internal/auth"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

type SubmitRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type ReviewRequest struct {
	Note *string `json:"note" validate:"omitempty,max=500"`
}

// Submit serves POST /token-requests.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	created, err := h.svc.Submit(r.Context(), userID, req.Reason)
	if err != nil {
		h.handleSubmitError(w, err)
		return
	}

	api.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrReasonRequired), errors.Is(err, ErrReasonTooLong):
		api.HandleError(w, api.NewValidationError(err.Error()))
	case errors.Is(err, ErrPendingExists):
		api.HandleError(w, api.NewConflictError(err.Error()))
	case errors.Is(err, ErrDailyCapReached):
		api.HandleError(w, api.NewTooManyRequestsError(err.Error()))
	default:
		slog.Error("submitting token request", "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}

// CanRequest serves GET /token-requests/can-request.
func (h *Handler) CanRequest(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	elig, err := h.svc.Eligibility(r.Context(), userID)
	if err != nil {
		slog.Error("checking eligibility", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, elig)
}

// ListMine serves GET /token-requests.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	page, pageSize := pageParams(r)
	requests, total, err := h.svc.ListMine(r.Context(), userID, page, pageSize)
	if err != nil {
		slog.Error("listing token requests", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, requests, total, page, pageSize)
}

// ListPending serves GET /admin/token-requests (admin only).
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	requests, total, err := h.svc.ListPending(r.Context(), page, pageSize)
	if err != nil {
		slog.Error("listing pending requests", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, requests, total, page, pageSize)
}

// Approve serves POST /admin/token-requests/{requestID}/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.reviewEndpoint(w, r, h.svc.Approve)
}

// Reject serves POST /admin/token-requests/{requestID}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.reviewEndpoint(w, r, h.svc.Reject)
}

func (h *Handler) reviewEndpoint(w http.ResponseWriter, r *http.Request,
	review func(ctx context.Context, id, reviewerID uuid.UUID, note *string) (*TokenRequest, error)) {

	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	reviewerID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("invalid request id"))
		return
	}

	var body ReviewRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			api.HandleError(w, api.ErrBadRequest)
			return
		}
		if err := h.validate.Struct(body); err != nil {
			api.HandleError(w, api.NewValidationError(err.Error()))
			return
		}
	}

	reviewed, err := review(r.Context(), requestID, reviewerID, body.Note)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			api.HandleError(w, api.ErrNotFound)
		case errors.Is(err, ErrNotPending):
			api.HandleError(w, api.NewConflictError(err.Error()))
		case errors.Is(err, ErrNoteRequired):
			api.HandleError(w, api.NewValidationError(err.Error()))
		default:
			slog.Error("reviewing token request", "error", err, "request_id", requestID)
			api.HandleError(w, api.ErrInternalServer)
		}
		return
	}

	api.JSON(w, http.StatusOK, reviewed)
}

func pageParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
