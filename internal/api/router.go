package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nmslite/clapictl/internal/clapi"
	"github.com/nmslite/clapictl/internal/config"
	"github.com/nmslite/clapictl/internal/middleware"
)

// Dependencies holds what the gateway handlers need. Prober and Audit are
// optional.
type Dependencies struct {
	CLAPI     CLAPI
	Prober    Prober
	Audit     InvocationLister
	Auth      Authenticator
	Validator middleware.TokenValidator
	Logger    *slog.Logger
}

// NewHandler creates the gateway handler
func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		clapi:  deps.CLAPI,
		prober: deps.Prober,
		audit:  deps.Audit,
		auth:   deps.Auth,
		logger: logger.With("component", "api"),
	}
}

// NewRouter creates and configures the API router
func NewRouter(cors config.CORSConfig, deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))

	if cors.Enabled {
		r.Use(middleware.CORS(
			cors.AllowedOrigins,
			cors.AllowedMethods,
			cors.AllowedHeaders,
			cors.MaxAgeSeconds,
		))
	}

	h := NewHandler(deps)

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", h.Login)

		// Protected routes (require JWT)
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(deps.Validator))
			r.Use(recordCaller)

			r.Route("/hosts", func(r chi.Router) {
				r.Post("/", h.CreateHost)
				r.Post("/{hostname}/templates", h.AddTemplate)
				r.Post("/{hostname}/templates/apply", h.ApplyTemplate)
				r.Put("/{hostname}/snmp", h.SetSNMP)
				r.Put("/{hostname}/hostgroups", h.SetHostgroups)
				r.Post("/{hostname}/services/exclude", h.ExcludeServices)
			})

			r.Post("/pollers/{poller}/{step}", h.PollerStep)

			r.Get("/invocations", h.ListInvocations)
		})
	})

	return r
}

// recordCaller tags the CLAPI invocations of a request with its ID and the
// authenticated user
func recordCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, _ := r.Context().Value(middleware.RequestIDKey).(string)
		username, _ := r.Context().Value(middleware.UsernameKey).(string)
		ctx := clapi.WithCaller(r.Context(), clapi.Caller{RequestID: requestID, User: username})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
