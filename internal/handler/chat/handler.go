package chat

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/apperr"
	"github.com/zhouzirui/ai-workbench/backend/internal/middleware"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
	chatService "github.com/zhouzirui/ai-workbench/backend/internal/service/chat"
	"github.com/zhouzirui/ai-workbench/backend/pkg/utils"
)

// MaxBodyBytes caps the chat request body.
const MaxBodyBytes = 1 << 20

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	log     *logrus.Entry
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, log *logrus.Entry) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		log:     log,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/tools/chat", h.handleTurn)
	r.Get("/tools/chat", h.handleHistory)
}

type sessionsResponse struct {
	Sessions []chat.SessionSummary `json:"sessions"`
}

// handleTurn 处理一次对话
func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())
	if !identity.Authenticated() {
		h.respondError(w, r, apperr.ErrUnauthorized)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.chatSvc.Turn(r.Context(), identity, payload)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

// handleHistory 返回单个会话，或在未指定 sessionId 时返回会话列表
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())

	if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
		history, err := h.chatSvc.History(r.Context(), identity, sessionID)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, history)
		return
	}

	sessions, err := h.chatSvc.Sessions(r.Context(), identity)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []chat.SessionSummary{}
	}
	utils.RespondJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := utils.StatusFor(err)
	entry := h.log.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"status": status,
	})
	switch {
	case status >= http.StatusInternalServerError:
		entry.Error("chat request failed")
	case errors.Is(err, apperr.ErrInvalidRequest), errors.Is(err, apperr.ErrUnauthorized):
		entry.Debug("chat request rejected")
	default:
		entry.Info("chat request failed")
	}
	utils.RespondAppError(w, err)
}
