package api

import (
	"log/slog"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/lineage-observer/internal/api/handlers"
	"github.com/vitaliisemenov/lineage-observer/internal/api/middleware"
)

// RouterConfig holds router configuration (spec §4.8 "HTTP Surface").
type RouterConfig struct {
	EnableRateLimit   bool
	EnableCompression bool
	EnableCORS        bool
	EnableMetrics     bool

	RateLimitPerMinute int
	RateLimitBurst     int

	CORSConfig middleware.CORSConfig

	Logger   *slog.Logger
	Handlers *handlers.Handlers
}

// DefaultRouterConfig returns the default middleware toggles; authn/authz
// is deliberately absent (access control is assumed to live in a
// surrounding deployment layer).
func DefaultRouterConfig(logger *slog.Logger) RouterConfig {
	return RouterConfig{
		EnableRateLimit:    true,
		EnableCompression:  true,
		EnableCORS:         true,
		EnableMetrics:      true,
		RateLimitPerMinute: 600,
		RateLimitBurst:     50,
		CORSConfig:         middleware.DefaultCORSConfig(),
		Logger:             logger,
	}
}

// NewRouter builds the mux.Router serving spec §6's endpoints.
//
// The middleware stack is applied in order:
//  1. RequestID (always)
//  2. Logging (always)
//  3. Metrics (if enabled)
//  4. CORS (if enabled)
//  5. Compression (if enabled)
//  6. RateLimit (if enabled)
//  7. Validation (always)
func NewRouter(config RouterConfig) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(config.Logger))

	if config.EnableMetrics {
		router.Use(middleware.MetricsMiddleware)
	}
	if config.EnableCORS {
		router.Use(middleware.CORSMiddleware(config.CORSConfig))
	}
	if config.EnableCompression {
		router.Use(middleware.CompressionMiddleware)
	}
	if config.EnableRateLimit {
		router.Use(middleware.RateLimitMiddleware(config.RateLimitPerMinute, config.RateLimitBurst))
	}
	router.Use(middleware.ValidationMiddleware)

	router.HandleFunc("/health", config.Handlers.Health).Methods("GET")

	router.HandleFunc("/dag/{id}", config.Handlers.DAG).Methods("GET", "POST")
	router.HandleFunc("/errors/{id}", config.Handlers.Errors).Methods("GET")

	router.HandleFunc("/cache/stats", config.Handlers.CacheStats).Methods("GET")
	router.HandleFunc("/cache/clear", config.Handlers.CacheClear).Methods("POST")

	return router
}
