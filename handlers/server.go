package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"ring0.store/fulfillment/fulfillment"
	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/internal/ratelimit"
	"ring0.store/fulfillment/internal/version"
	"ring0.store/fulfillment/models"
	"ring0.store/fulfillment/providers"
	"ring0.store/fulfillment/storage"
)

type Options struct {
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
}

type Server struct {
	Router    chi.Router
	Storage   storage.Storage
	Service   *fulfillment.Service
	Providers map[models.PaymentMethod]providers.Provider
	Limiter   *ratelimit.FixedWindowLimiter
	now       func() time.Time
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewHttpServer(store storage.Storage, service *fulfillment.Service, registry map[models.PaymentMethod]providers.Provider, opts Options) *Server {
	if opts.RateLimitRequests == 0 {
		opts.RateLimitRequests = 30
	}
	if opts.RateLimitWindow == 0 {
		opts.RateLimitWindow = time.Minute
	}
	if len(opts.CORSAllowedOrigins) == 0 {
		opts.CORSAllowedOrigins = []string{"*"}
	}

	s := &Server{
		Router:    chi.NewRouter(),
		Storage:   store,
		Service:   service,
		Providers: registry,
		Limiter:   ratelimit.New(opts.RateLimitRequests, opts.RateLimitWindow),
		now:       func() time.Time { return time.Now().UTC() },
	}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.Recoverer)
	// preflight requests never reach route groups, so CORS wraps the whole router
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.Router.Get("/health", s.Health)

	s.Router.Post("/api/v1/webhooks/{provider}", s.Webhook)
	s.Router.Post("/api/{provider}/webhook", s.Webhook)

	s.Router.Group(func(r chi.Router) {
		r.Use(s.Limiter.Middleware)

		r.Get("/api/v1/orders/{orderNumber}", s.OrderStatus)
		r.Post("/api/v1/licenses/validate", s.ValidateLicense)
	})

	logger.Info("HTTP routes registered", map[string]interface{}{
		"providers": len(registry),
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   version.Version,
		Timestamp: s.now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
