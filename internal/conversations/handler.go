package conversations

import (
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

type CreateRequest struct {
	Title string `json:"title" validate:"omitempty,max=200"`
}

type AppendMessageRequest struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
	Tokens  int    `json:"tokens" validate:"gte=0"`
}

type FeedbackRequest struct {
	Feedback string `json:"feedback" validate:"required,oneof=none liked disliked"`
}

type conversationDetail struct {
	Conversation *Conversation `json:"conversation"`
	Messages     []Message     `json:"messages"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	conv, err := h.svc.Create(r.Context(), userID, req.Title)
	if err != nil {
		slog.Error("creating conversation", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusCreated, conv)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	convs, total, err := h.svc.List(r.Context(), userID, page, pageSize)
	if err != nil {
		slog.Error("listing conversations", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, convs, total, page, pageSize)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("invalid conversation id"))
		return
	}

	conv, messages, err := h.svc.Get(r.Context(), userID, conversationID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, conversationDetail{Conversation: conv, Messages: messages})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("invalid conversation id"))
		return
	}

	if err := h.svc.Delete(r.Context(), userID, conversationID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	api.JSONMessage(w, http.StatusOK, "conversation deleted")
}

func (h *Handler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("invalid conversation id"))
		return
	}

	var req AppendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	msg, err := h.svc.AppendMessage(r.Context(), userID, conversationID, req.Role, req.Content, req.Tokens)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	api.JSON(w, http.StatusCreated, msg)
}

func (h *Handler) SetFeedback(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	messageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("invalid message id"))
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if err := h.svc.SetFeedback(r.Context(), userID, messageID, req.Feedback); err != nil {
		h.handleServiceError(w, err)
		return
	}

	api.JSONMessage(w, http.StatusOK, "feedback recorded")
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrMessageNotFound):
		api.HandleError(w, api.ErrNotFound)
	case errors.Is(err, ErrNotOwner):
		api.HandleError(w, api.ErrOwnershipViolation)
	case errors.Is(err, ErrInvalidFeedback):
		api.HandleError(w, api.NewValidationError(err.Error()))
	default:
		slog.Error("conversation operation failed", "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}

func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}
