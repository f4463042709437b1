package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uuru/uuru/internal/api/middleware"
	"github.com/uuru/uuru/internal/api/respond"
	"github.com/uuru/uuru/internal/config"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/extension"
	"github.com/uuru/uuru/internal/federation"
	"github.com/uuru/uuru/internal/flavor"
	"github.com/uuru/uuru/internal/websip"
)

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Config     *config.Config
	DB         *database.DB
	JWTSecret  []byte
	Registry   *flavor.Registry
	Extensions *extension.Service
	Federation *federation.Service
	WebSIP     *websip.Manager // nil when browser phones are disabled
	Metrics    prometheus.Gatherer
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	Deps
	router  *chi.Mux
	users   database.UserRepository
	partner *middleware.IPRateLimiter
	login   *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted. The rate
// limiters stop their cleanup when ctx is done.
func NewServer(ctx context.Context, d Deps) *Server {
	s := &Server{
		Deps:    d,
		router:  chi.NewRouter(),
		users:   database.NewUserRepository(d.DB),
		partner: middleware.NewIPRateLimiter(ctx, middleware.PartnerRateLimitConfig()),
		login:   middleware.NewIPRateLimiter(ctx, middleware.LoginRateLimitConfig()),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(s.Config.CORSOrigins))

	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(s.JWTSecret, s.users))

		r.Get("/health", s.handleHealth)
		r.With(middleware.RateLimit(s.login)).Post("/auth/login", s.handleLogin)
		r.With(middleware.RequireUser).Get("/auth/me", s.handleMe)

		r.Route("/extension", func(r chi.Router) {
			r.Get("/phonebook", s.handlePhonebook)
			r.Get("/online/{ext}", s.handleOnline)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser)
				r.Post("/", s.handleCreateExtension)
				r.Get("/own", s.handleOwnExtensions)
				r.Get("/info/{ext}", s.handleExtensionInfo)
				r.Patch("/{ext}", s.handleUpdateExtension)
				r.Delete("/{ext}", s.handleDeleteExtension)
				r.Put("/{ext}/media/{key}", s.handleAssignMedia)
				r.Delete("/{ext}/media/{key}", s.handleRemoveMedia)
			})
		})

		r.Get("/media/byextension/{ext}/{key}", s.handleStreamMedia)

		r.Route("/telephoning", func(r chi.Router) {
			r.Get("/types", s.handleTypes)
			if s.WebSIP != nil {
				r.Route("/websip", func(r chi.Router) {
					r.Post("/", s.handleCreateWebSIP)
					r.Get("/{ext}", s.handleGetWebSIP)
					r.Post("/{ext}/keepalive", s.handleTouchWebSIP)
					r.Delete("/{ext}", s.handleDeleteWebSIP)
				})
			}
			s.Registry.Mount(r)
		})

		r.Route("/federation", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(s.partner))
				s.Federation.PartnerRoutes(r)
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser)
				r.Post("/outgoing/request", s.handleCreateOutgoing)
				r.Get("/outgoing/requests", s.handleListOutgoing)
				r.Delete("/outgoing/request/{id}", s.handleRevokeOutgoing)
				r.Get("/incoming/requests", s.handleListIncoming)
				r.Put("/incoming/request/{id}", s.handleAnswerIncoming)
				r.Get("/peers", s.handleListPeers)
				r.Delete("/peer/{id}", s.handleTeardownPeer)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	slog.Info("api: routes mounted", "websip", s.WebSIP != nil, "types", len(s.Registry.Types()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.DB.PingContext(ctx); err != nil {
		slog.Error("api: health check failed", "error", err)
		respond.Error(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
