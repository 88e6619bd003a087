package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/andyfreed/kiddos/internal/agent"
	"github.com/andyfreed/kiddos/internal/extract"
	kiddosotel "github.com/andyfreed/kiddos/internal/otel"
	"github.com/andyfreed/kiddos/internal/secrets"
	"github.com/andyfreed/kiddos/internal/store"
)

const defaultTimeout = 60 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router       *chi.Mux
	store        *store.Store
	orchestrator *agent.Orchestrator
	executor     *agent.Executor
	undo         *agent.UndoService
	extractor    *extract.Extractor
	vault        *secrets.Vault
	apiKeys      map[string]string
	corsOrigins  []string
	rateRPS      float64
	rateBurst    int
	startTime    time.Time
	version      string
}

// Option configures the Server.
type Option func(*Server)

// WithCORSOrigins sets allowed CORS origins (e.g. ["*"]).
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithRateLimit overrides the per-user rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.rateRPS = rps; s.rateBurst = burst }
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// NewServer builds a Server with the required dependencies.
func NewServer(
	st *store.Store,
	orchestrator *agent.Orchestrator,
	executor *agent.Executor,
	undo *agent.UndoService,
	extractor *extract.Extractor,
	vault *secrets.Vault,
	apiKeys map[string]string,
	opts ...Option,
) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		store:        st,
		orchestrator: orchestrator,
		executor:     executor,
		undo:         undo,
		extractor:    extractor,
		vault:        vault,
		apiKeys:      apiKeys,
		corsOrigins:  []string{"*"},
		rateRPS:      5,
		rateBurst:    10,
		startTime:    time.Now(),
		version:      "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the configured http.Handler. The chat route skips the
// default request timeout because a turn spans up to two model calls.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(kiddosotel.Middleware())
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.rateRPS, s.rateBurst))

		// Long-running: spans model calls, no request timeout.
		r.Post("/v1/agent/chat", s.handleChat)
		r.Post("/v1/inbox/{id}/extract", s.handleRunExtraction)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))

			r.Post("/v1/actions/undo", s.handleUndo)
			r.Get("/v1/actions", s.handleActionsList)

			r.Post("/v1/ingest/manual", s.handleIngestManual)
			r.Get("/v1/inbox", s.handleInboxList)
			r.Get("/v1/inbox/{id}", s.handleInboxGet)

			r.Get("/v1/items", s.handleItemsList)
			r.Post("/v1/items", s.handleItemCreate)
			r.Get("/v1/items/{id}", s.handleItemGet)
			r.Put("/v1/items/{id}", s.handleItemUpdate)
			r.Delete("/v1/items/{id}", s.handleItemDelete)
			r.Get("/v1/items/{id}/links", s.handleItemLinks)

			r.Get("/v1/kids", s.handleKidsList)
			r.Post("/v1/kids", s.handleKidCreate)
			r.Put("/v1/kids/{id}", s.handleKidUpdate)
			r.Delete("/v1/kids/{id}", s.handleKidDelete)

			r.Get("/v1/activities", s.handleActivitiesList)
			r.Post("/v1/activities", s.handleActivityCreate)
			r.Put("/v1/activities/{id}", s.handleActivityUpdate)
			r.Delete("/v1/activities/{id}", s.handleActivityDelete)

			r.Get("/v1/suggestions", s.handleSuggestionsList)
			r.Post("/v1/suggestions/approve", s.handleSuggestionsApprove)

			r.Get("/v1/secrets", s.handleSecretsList)
			r.Put("/v1/secrets/openai-key", s.handleSecretSetOpenAIKey)
			r.Delete("/v1/secrets/openai-key", s.handleSecretDeleteOpenAIKey)
		})
	})

	return r
}
