package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fengnong/fengnong-agent/backend/internal/handler/chat"
	"github.com/fengnong/fengnong-agent/backend/internal/handler/persona"
	"github.com/fengnong/fengnong-agent/backend/internal/handler/stream"
	"github.com/fengnong/fengnong-agent/backend/internal/metrics"
	middlewarePkg "github.com/fengnong/fengnong-agent/backend/internal/middleware"
	personaModel "github.com/fengnong/fengnong-agent/backend/internal/model/persona"
	chatService "github.com/fengnong/fengnong-agent/backend/internal/service/chat"
	"github.com/fengnong/fengnong-agent/backend/pkg/utils"
)

// AIClient is the completion and embedding surface used by the /ai routes.
type AIClient interface {
	chat.Completer
	chat.Embedder
}

// Deps are the services the router wires into handlers. AI and Chat may be
// nil when no model is configured; the /ai chat routes then answer 503.
type Deps struct {
	Personas       personaModel.Store
	AI             AIClient
	Chat           *chatService.Service
	Metrics        *metrics.Metrics
	EmbeddingModel string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLog(deps.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/ai", func(api chi.Router) {
		persona.New(deps.Personas).RegisterRoutes(api)

		if deps.AI == nil || deps.Chat == nil {
			unavailable := func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "ai unavailable")
			}
			for _, path := range []string{"/generate", "/generateStream", "/embedding", "/history", "/ws"} {
				api.Get(path, unavailable)
			}
			return
		}

		chat.New(chat.Options{
			Completer:      deps.AI,
			Embedder:       deps.AI,
			Streamer:       deps.Chat,
			GeneratePrompt: personaModel.SystemPrompt(deps.Personas, personaModel.JavaMasterID),
			EmbeddingModel: deps.EmbeddingModel,
		}).RegisterRoutes(api)

		stream.New(deps.Chat).RegisterRoutes(api)
	})

	return r
}
