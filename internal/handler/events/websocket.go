package events

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/middleware"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
	"github.com/zhouzirui/ai-workbench/backend/internal/service/title"
	"github.com/zhouzirui/ai-workbench/backend/pkg/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// AccountResolver maps a verified identity to its account.
type AccountResolver interface {
	Account(ctx context.Context, identity user.Identity) (user.Account, error)
}

// WebSocketHandler 推送会话标题更新
type WebSocketHandler struct {
	accounts AccountResolver
	broker   *title.Broker
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(accounts AccountResolver, broker *title.Broker, log *logrus.Entry) *WebSocketHandler {
	return &WebSocketHandler{
		accounts: accounts,
		broker:   broker,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tools/chat/events", h.handleEvents)
}

func (h *WebSocketHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Authorization is settled before the upgrade so failures are plain HTTP errors.
	account, err := h.accounts.Account(r.Context(), middleware.IdentityFrom(r.Context()))
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.WithField("account_id", account.ID)
	events, cancel := h.broker.Subscribe(account.ID)
	defer cancel()
	log.Debug("title events subscriber connected")

	closed := make(chan struct{})
	go h.readLoop(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Debug("title events subscriber disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.WithError(err).Debug("write title event failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *WebSocketHandler) readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
