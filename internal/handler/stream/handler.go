package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/handler/events"
	"github.com/zhouzirui/ai-workbench/backend/internal/middleware"
	"github.com/zhouzirui/ai-workbench/backend/internal/service/title"
	"github.com/zhouzirui/ai-workbench/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Handler streams title events over Server-Sent Events for clients that cannot use websockets.
type Handler struct {
	accounts events.AccountResolver
	broker   *title.Broker
	log      *logrus.Entry
}

// New creates a new stream handler
func New(accounts events.AccountResolver, broker *title.Broker, log *logrus.Entry) *Handler {
	return &Handler{
		accounts: accounts,
		broker:   broker,
		log:      log,
	}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/tools/chat/events/stream", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	account, err := h.accounts.Account(ctx, middleware.IdentityFrom(ctx))
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	log := h.log.WithField("account_id", account.ID)
	updates, cancel := h.broker.Subscribe(account.ID)
	defer cancel()

	// The server WriteTimeout would otherwise cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEComment(w, flusher, "stream established"); err != nil {
		return
	}
	log.Debug("title event stream opened")

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("title event stream closed")
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, ev.Event, ev); err != nil {
				log.WithError(err).Debug("write title event failed")
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
