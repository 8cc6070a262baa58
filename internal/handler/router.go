package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/storyline/internal/handler/contract"
	"github.com/zhouzirui/storyline/internal/handler/live"
	"github.com/zhouzirui/storyline/internal/handler/session"
	"github.com/zhouzirui/storyline/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/storyline/internal/middleware"
	answerService "github.com/zhouzirui/storyline/internal/service/answers"
	sessionService "github.com/zhouzirui/storyline/internal/service/session"
	"github.com/zhouzirui/storyline/internal/service/story"
	"github.com/zhouzirui/storyline/pkg/utils"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterOptions carries the optional pieces of the companion API.
type RouterOptions struct {
	AllowedOrigins []string
	// Store is checked by /healthz when set.
	Store Pinger
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter wires HTTP routes to the interview engine.
func NewRouter(engine *sessionService.Engine, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.AllowedOrigins))

	r.Get("/healthz", healthHandler(opts.Store))
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	sessionHandler := session.New(engine)
	streamHandler := stream.New(engine)
	liveHandler := live.New(engine, opts.AllowedOrigins)

	r.Route("/api", func(api chi.Router) {
		// 长连接不经过请求日志中间件
		streamHandler.RegisterRoutes(api)
		liveHandler.RegisterRoutes(api)

		api.Group(func(rest chi.Router) {
			rest.Use(middleware.Logger)
			sessionHandler.RegisterRoutes(rest)
		})
	})

	return r
}

// NewBackendRouter wires the story backend contract routes.
func NewBackendRouter(answers *answerService.Service, generator story.Generator, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(allowedOrigins))

	r.Get("/healthz", healthHandler(nil))
	contract.New(answers, generator).RegisterRoutes(r)

	return r
}

func healthHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "store unavailable")
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
