package admin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/senpai-platform/senpai/internal/api"
	"github.com/senpai-platform/senpai/internal/audit"
	"github.com/senpai-platform/senpai/internal/auth"
	"github.com/senpai-platform/senpai/internal/conversations"
	inats "github.com/senpai-platform/senpai/internal/nats"
	"github.com/senpai-platform/senpai/internal/quota"
	"github.com/senpai-platform/senpai/internal/users"
)

// Handler exposes the moderation surface. Every route here sits behind
// auth.RequireAdmin.
type Handler struct {
	userSvc   *users.Service
	quotaSvc  *quota.Service
	convSvc   *conversations.Service
	auditRepo *audit.Repository
	events    *inats.Publisher
	validate  *validator.Validate
}

func NewHandler(userSvc *users.Service, quotaSvc *quota.Service, convSvc *conversations.Service,
	auditRepo *audit.Repository, events *inats.Publisher) *Handler {
	return &Handler{
		userSvc:   userSvc,
		quotaSvc:  quotaSvc,
		convSvc:   convSvc,
		auditRepo: auditRepo,
		events:    events,
		validate:  validator.New(),
	}
}

type userOverview struct {
	User   *users.User   `json:"user"`
	Status *quota.Status `json:"quota"`
}

type UpdateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=standard admin"`
}

type BanRequest struct {
	Reason      string `json:"reason" validate:"required,max=500"`
	DurationHrs int    `json:"duration_hours" validate:"gte=0"`
}

// ListUsers serves GET /admin/users: every account with its live quota
// status.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	list, total, err := h.userSvc.List(r.Context(), page, pageSize)
	if err != nil {
		slog.Error("listing users", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	overviews := make([]userOverview, 0, len(list))
	for _, user := range list {
		status, err := h.quotaSvc.GetStatus(r.Context(), user.ID, user.Role)
		if err != nil {
			slog.Error("loading quota status", "error", err, "user_id", user.ID)
			api.HandleError(w, api.ErrInternalServer)
			return
		}
		overviews = append(overviews, userOverview{User: user, Status: status})
	}

	api.JSONPaginated(w, http.StatusOK, overviews, total, page, pageSize)
}

// UpdateRole serves PUT /admin/users/{userID}/role.
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	var req UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	user, err := h.userSvc.GetByID(r.Context(), userID)
	if err != nil {
		slog.Error("getting user", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if user == nil {
		api.HandleError(w, api.ErrNotFound)
		return
	}

	if err := h.userSvc.UpdateRole(r.Context(), userID, req.Role); err != nil {
		slog.Error("updating role", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	h.publishEvent(r, userID, inats.EventRoleChanged, inats.SeverityInfo,
		fmt.Sprintf("role changed from %s to %s", user.Role, req.Role))
	api.JSONMessage(w, http.StatusOK, "role updated")
}

// Ban serves POST /admin/users/{userID}/ban. A zero duration is a
// permanent ban.
func (h *Handler) Ban(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	var req BanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	var expiresAt *time.Time
	if req.DurationHrs > 0 {
		t := time.Now().Add(time.Duration(req.DurationHrs) * time.Hour)
		expiresAt = &t
	}

	if err := h.quotaSvc.Ban(r.Context(), userID, req.Reason, expiresAt); err != nil {
		slog.Error("banning user", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	h.publishEvent(r, userID, inats.EventUserBanned, inats.SeverityWarn, "banned: "+req.Reason)
	api.JSONMessage(w, http.StatusOK, "user banned")
}

// Unban serves POST /admin/users/{userID}/unban.
func (h *Handler) Unban(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	if err := h.quotaSvc.Unban(r.Context(), userID); err != nil {
		slog.Error("unbanning user", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	h.publishEvent(r, userID, inats.EventUserUnbanned, inats.SeverityInfo, "ban lifted by admin")
	api.JSONMessage(w, http.StatusOK, "user unbanned")
}

// ResetQuota serves POST /admin/users/{userID}/reset-quota: a manual
// version of the token-request approval reset.
func (h *Handler) ResetQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	if err := h.quotaSvc.GrantReset(r.Context(), userID); err != nil {
		slog.Error("resetting quota", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "quota reset")
}

type statsOverview struct {
	Users         int64                         `json:"users"`
	Conversations int64                         `json:"conversations"`
	Messages      int64                         `json:"messages"`
	Feedback      *conversations.FeedbackCounts `json:"feedback"`
}

// Stats serves GET /admin/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	userCount, err := h.userSvc.Count(r.Context())
	if err != nil {
		slog.Error("counting users", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	convCount, msgCount, feedback, err := h.convSvc.Stats(r.Context())
	if err != nil {
		slog.Error("aggregating stats", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, statsOverview{
		Users:         userCount,
		Conversations: convCount,
		Messages:      msgCount,
		Feedback:      feedback,
	})
}

// ListAudit serves GET /admin/audit with optional user_id, event_type and
// severity filters.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	params := audit.DefaultListParams()
	params.Page, params.PageSize = pageParams(r)
	params.EventType = r.URL.Query().Get("event_type")
	params.Severity = r.URL.Query().Get("severity")

	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			api.HandleError(w, api.NewValidationError("invalid user_id filter"))
			return
		}
		params.UserID = &userID
	}

	entries, total, err := h.auditRepo.List(r.Context(), params)
	if err != nil {
		slog.Error("listing audit entries", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, entries, total, params.Page, params.PageSize)
}

func (h *Handler) publishEvent(r *http.Request, userID uuid.UUID, eventType, severity, details string) {
	if h.events == nil {
		return
	}

	resourceID := ""
	if claims := auth.GetUserClaims(r.Context()); claims != nil {
		resourceID = claims.UserID
	}

	err := h.events.PublishAuditEvent(r.Context(), inats.AuditEvent{
		UserID:       userID,
		EventType:    eventType,
		Severity:     severity,
		ResourceType: "admin_action",
		ResourceID:   resourceID,
		Details:      details,
		Timestamp:    time.Now(),
	})
	if err != nil {
		slog.Warn("publishing audit event", "error", err, "event_type", eventType)
	}
}

func pathUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("invalid user id"))
		return uuid.Nil, false
	}
	return userID, true
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
