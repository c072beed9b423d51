package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nebulaai/nebula/backend/internal/handler/admin"
	"github.com/nebulaai/nebula/backend/internal/handler/chat"
	middlewarePkg "github.com/nebulaai/nebula/backend/internal/middleware"
	"github.com/nebulaai/nebula/backend/internal/service/agent"
	"github.com/nebulaai/nebula/backend/internal/service/memory"
	"github.com/nebulaai/nebula/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. registry is nil when
// model credentials are absent; chat routes then answer 503 while the
// admin surface stays up.
func NewRouter(store *memory.Store, registry *agent.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	var counter admin.SessionCounter
	if registry != nil {
		counter = registry
	}
	adminHandler := admin.New(store, counter)

	r.Route("/api", func(api chi.Router) {
		adminHandler.RegisterRoutes(api)

		if registry == nil {
			api.Post("/session", chatUnavailable)
			api.Post("/chat/{sessionID}", chatUnavailable)
			api.Get("/chat/{sessionID}/ws", chatUnavailable)
			return
		}

		chatHandler := chat.New(registry, store)
		chatHandler.RegisterRoutes(api)

		wsHandler := chat.NewWebSocketHandler(registry)
		wsHandler.RegisterWebSocketRoutes(api)
	})

	return r
}

func chatUnavailable(w http.ResponseWriter, _ *http.Request) {
	utils.RespondError(w, http.StatusServiceUnavailable, "ai chat unavailable")
}
