package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AishwaryaChandel27/Weather-Agent/internal/agent"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/core"
	"github.com/AishwaryaChandel27/Weather-Agent/internal/store"
)

type APIHandler struct {
	chatService *core.ChatService
	relay       *agent.Relay
	logger      *zap.Logger
}

func NewAPIHandler(cs *core.ChatService, relay *agent.Relay, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		chatService: cs,
		relay:       relay,
		logger:      logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps err onto a status code. fallback is the message used for
// unexpected failures, which are logged and reported as 500.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error, notFound, fallback string) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(fallback,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type CreateConversationRequest struct {
	Title    string `json:"title"`
	ThreadID string `json:"threadId"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	convs, err := h.chatService.ListConversations(r.Context())
	if err != nil {
		h.fail(w, r, err, "", "Failed to fetch conversations")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid conversation data")
		return
	}

	conv, err := h.chatService.CreateConversation(r.Context(), req.Title, req.ThreadID)
	if err != nil {
		h.fail(w, r, err, "", "Failed to create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatService.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "Conversation not found", "Failed to fetch conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *APIHandler) UpdateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid conversation data")
		return
	}

	conv, err := h.chatService.RenameConversation(r.Context(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		h.fail(w, r, err, "Conversation not found", "Failed to update conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chatService.DeleteConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err, "Conversation not found", "Failed to delete conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type CreateMessageRequest struct {
	Role     store.Role      `json:"role"`
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chatService.ListMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "", "Failed to fetch messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *APIHandler) CreateMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid message data")
		return
	}

	msg, err := h.chatService.CreateMessage(r.Context(), chi.URLParam(r, "id"), req.Role, req.Content, req.Metadata)
	if err != nil {
		h.fail(w, r, err, "", "Failed to create message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *APIHandler) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := h.chatService.Settings(r.Context())
	if err != nil {
		h.fail(w, r, err, "Settings not found", "Failed to fetch settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *APIHandler) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var patch store.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings data")
		return
	}

	settings, err := h.chatService.UpdateSettings(r.Context(), patch)
	if err != nil {
		h.fail(w, r, err, "Settings not found", "Failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
