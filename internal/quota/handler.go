package quota

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/senpai-platform/senpai/internal/api"
	"github.com/senpai-platform/senpai/internal/auth"
	"github.com/senpai-platform/senpai/internal/users"
)

type Handler struct {
	svc     *Service
	userSvc *users.Service
}

func NewHandler(svc *Service, userSvc *users.Service) *Handler {
	return &Handler{svc: svc, userSvc: userSvc}
}

// GetStatus serves GET /rate-limit-status/{userID}. Users may read their
// own status; admins may read anyone's.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("invalid user id"))
		return
	}

	if claims.UserID != userID.String() && claims.Role != users.RoleAdmin {
		api.HandleError(w, api.ErrForbidden)
		return
	}

	role := claims.Role
	if claims.UserID != userID.String() {
		user, err := h.userSvc.GetByID(r.Context(), userID)
		if err != nil {
			slog.Error("getting user for status", "error", err)
			api.HandleError(w, api.ErrInternalServer)
			return
		}
		if user == nil {
			api.HandleError(w, api.ErrNotFound)
			return
		}
		role = user.Role
	}

	status, err := h.svc.GetStatus(r.Context(), userID, role)
	if err != nil {
		slog.Error("getting rate limit status", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, status)
}
