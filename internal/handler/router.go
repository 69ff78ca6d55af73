package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/handler/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/handler/events"
	"github.com/zhouzirui/ai-workbench/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/ai-workbench/backend/internal/middleware"
	chatService "github.com/zhouzirui/ai-workbench/backend/internal/service/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/service/title"
	"github.com/zhouzirui/ai-workbench/backend/pkg/utils"
)

// Dependencies collects what the router wires into handlers.
type Dependencies struct {
	Chat           *chatService.Service
	Titles         *title.Broker
	Verifier       middlewarePkg.TokenVerifier
	AllowedOrigins []string
	Log            *logrus.Entry
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(deps.Log))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))
	r.Use(middlewarePkg.Authenticate(deps.Verifier, deps.Log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	chatHandler := chat.New(deps.Chat, deps.Log)
	eventsHandler := events.NewWebSocketHandler(deps.Chat, deps.Titles, deps.Log)
	streamHandler := stream.New(deps.Chat, deps.Titles, deps.Log)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		eventsHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	return r
}
