package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"deckgen/internal/auth"
	"deckgen/internal/config"
	"deckgen/internal/http/handler"
	mw "deckgen/internal/http/middleware"
	"deckgen/internal/logger"
)

// NewRouter builds the trigger surface. jwtSvc may be nil to disable auth and
// source may be nil when no event stream is available.
func NewRouter(cfg config.Config, log *logger.Logger, runner handler.Runner, jobsStore handler.JobReader, source handler.EventSource, jwtSvc *auth.JWT) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(mw.Trace("deckgen.http"))

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	gen := &handler.GenerateHandler{Runner: runner, Log: log.With("handler", "generate")}
	r.Options("/generate", gen.Preflight)
	r.With(auth.RequireAuth(jwtSvc)).Post("/generate", gen.Generate)

	jh := &handler.JobHandler{Jobs: jobsStore}
	r.With(auth.RequireAuth(jwtSvc)).Get("/jobs/{id}", jh.Get)

	if source != nil {
		eh := &handler.EventsHandler{Source: source, Jobs: jobsStore, Log: log.With("handler", "events")}
		r.With(auth.RequireAuth(jwtSvc)).Get("/jobs/{id}/events", eh.Stream)
	}

	return r
}
