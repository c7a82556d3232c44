package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/senpai-platform/senpai/internal/api"
	"github.com/senpai-platform/senpai/internal/auth"
	"github.com/senpai-platform/senpai/internal/conversations"
	"github.com/senpai-platform/senpai/internal/session"
)

type Handler struct {
	svc      *Service
	conv     *conversations.Service
	validate *validator.Validate
}

// NewHandler wires the gateway. conv may be nil; exchanges are then kept
// only in the session cache.
func NewHandler(svc *Service, conv *conversations.Service) *Handler {
	return &Handler{
		svc:      svc,
		conv:     conv,
		validate: validator.New(),
	}
}

type SendRequest struct {
	Message        string `json:"message" validate:"required"`
	SessionID      string `json:"sessionId" validate:"omitempty,max=128"`
	ConversationID string `json:"conversationId" validate:"omitempty,uuid"`
}

// Send serves POST /chat. Rejections carry a top-level code field so the
// client can branch without parsing messages.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
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

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.JSONRaw(w, http.StatusBadRequest, &Rejection{
			Code: CodeInvalidInput, Message: "invalid request body",
		})
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.JSONRaw(w, http.StatusBadRequest, &Rejection{
			Code: CodeInvalidInput, Message: err.Error(),
		})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	reply, err := h.svc.Handle(r.Context(), userID, claims.Role, sessionID, req.Message)
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			api.JSONRaw(w, rej.Status, rej)
			return
		}
		slog.Error("handling chat message", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	// Persist to the conversation store when the client is tracking one.
	// Best effort; the exchange already succeeded.
	if h.conv != nil && req.ConversationID != "" {
		if convID, err := uuid.Parse(req.ConversationID); err == nil {
			_, err = h.conv.AppendMessage(r.Context(), userID, convID, session.RoleUser, req.Message, 0)
			if err == nil {
				_, err = h.conv.AppendMessage(r.Context(), userID, convID, session.RoleAssistant, reply.Reply, reply.TokensUsed)
			}
			if err != nil {
				slog.Warn("persisting exchange", "error", err, "conversation_id", convID)
			}
		}
	}

	api.JSONRaw(w, http.StatusOK, reply)
}

// GetSession serves GET /chat/sessions/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
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

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		api.HandleError(w, api.NewValidationError("session id is required"))
		return
	}

	sess, err := h.svc.History(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("loading session", "error", err, "session_id", sessionID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, sess)
}

// DeleteSession serves DELETE /chat/sessions/{sessionID}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
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

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		api.HandleError(w, api.NewValidationError("session id is required"))
		return
	}

	if err := h.svc.EndSession(r.Context(), userID, sessionID); err != nil {
		slog.Error("ending session", "error", err, "session_id", sessionID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "session ended")
}
