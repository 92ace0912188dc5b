// Package server exposes the rubricgate HTTP API: rubric evaluation,
// gated submissions, and the surrounding task/rubric/user resources.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/rubricgate/rubricgate/internal/config"
	"github.com/rubricgate/rubricgate/internal/evaluate"
	"github.com/rubricgate/rubricgate/internal/gate"
	"github.com/rubricgate/rubricgate/internal/generate"
	"github.com/rubricgate/rubricgate/internal/store"
)

type Server struct {
	http      *http.Server
	store     store.Store
	evaluator *evaluate.Evaluator
	generator *generate.Generator
	gate      *gate.Gate
	log       zerolog.Logger
}

// New wires the router and returns a Server ready to Run. The evaluator,
// generator, and gate are constructed once at startup and shared by all
// requests.
func New(cfg *config.Config, log zerolog.Logger, st store.Store, ev *evaluate.Evaluator, gen *generate.Generator, g *gate.Gate) *Server {
	s := &Server{store: st, evaluator: ev, generator: gen, gate: g, log: log}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	// Judge calls dominate request time; the timeout must cover a full
	// evaluation fan-out.
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
		MaxAge:         cfg.CORS.MaxAge,
	}))

	router.Get("/healthz", s.health)

	router.Route("/api", func(r chi.Router) {
		r.Post("/evaluate-rubrics", s.evaluateRubrics)
		r.Post("/llm-responses", s.generateResponses)

		r.Post("/submissions", s.createSubmission)
		r.Get("/submissions", s.listSubmissions)

		r.Get("/tasks", s.listTasks)
		r.Post("/tasks", s.createTask)
		r.Get("/tasks/{id}", s.getTask)
		r.Put("/tasks/{id}", s.updateTask)
		r.Delete("/tasks/{id}", s.deleteTask)

		r.Get("/rubrics", s.listRubrics)
		r.Post("/rubrics", s.createRubric)
		r.Get("/rubrics/search", s.searchRubrics)

		r.Post("/users/register", s.registerUser)
		r.Get("/leaderboard", s.leaderboard)
	})

	s.http = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler { return s.http.Handler }

func (s *Server) Run() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("starting rubricgate server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down rubricgate server")
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"judges": s.evaluator.Judges(),
	})
}
