package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jackdawsentry/sentry-core/internal/collector"
	"github.com/jackdawsentry/sentry-core/internal/platform/logging"
	"github.com/jackdawsentry/sentry-core/internal/platform/middleware"
)

// SkipAuthPaths are reachable without a bearer token (spec §6: "all
// require a bearer token except the health check and the first-launch
// setup endpoint"). cmd/sentryd passes this to middleware.AuthConfig.SkipPaths
// when constructing the AuthMiddleware wired into Dependencies.Auth.
var SkipAuthPaths = []string{
	"/health",
	"/health/detailed",
	"/api/v1/setup/status",
	"/api/v1/setup/initialize",
	"/api/v1/auth/login",
}

// New builds the HTTP router binding spec §6's route surface to deps.
func New(deps Dependencies) *mux.Router {
	if deps.Logger == nil {
		deps.Logger = logging.New("httpapi", "info", "json")
	}

	router := mux.NewRouter()

	health := middleware.NewHealthChecker(deps.Version)
	if deps.Collectors != nil {
		health.RegisterDetailedCheck("collectors", collectorHealthCheck(deps.Collectors))
	}
	router.Handle("/health", middleware.LivenessHandler()).Methods(http.MethodGet)
	router.Handle("/health/detailed", health.Handler()).Methods(http.MethodGet)

	recovery := middleware.NewRecoveryMiddleware(deps.Logger)
	tracing := middleware.NewTracingMiddleware(deps.Logger)
	security := middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders())
	cors := middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins:         deps.AllowedOrigins,
		AllowedMethods:         []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		RejectDisallowedOrigin: true,
	})
	bodyLimit := middleware.NewBodyLimitMiddleware(2 << 20)
	timeout := middleware.NewTimeoutMiddleware(30 * time.Second)
	limiter := middleware.NewRateLimiter(20, 40, deps.Logger)

	if deps.GatewaySharedSecret != "" {
		router.Use(middleware.HeaderGateMiddleware(deps.GatewaySharedSecret))
	}
	router.Use(recovery.Handler)
	router.Use(tracing.Handler)
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	router.Use(security.Handler)
	router.Use(cors.Handler)
	router.Use(bodyLimit.Handler)
	router.Use(timeout.Handler)
	router.Use(limiter.Handler)
	if deps.Metrics != nil {
		router.Use(middleware.MetricsMiddleware("httpapi", deps.Metrics))
	}

	if deps.Auth != nil {
		router.Use(deps.Auth.Handler)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	validation := middleware.NewValidationMiddleware(middleware.ValidationConfig{
		MaxBodySize:    2 << 20,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		ContentTypes:   []string{"application/json"},
	})
	api.Use(validation.Handler)
	registerAuthRoutes(api, deps)
	registerSetupRoutes(api, deps)
	registerAnalysisRoutes(api, deps)
	registerBlockchainRoutes(api, deps)
	registerInvestigationRoutes(api, deps)
	registerForensicsRoutes(api, deps)
	registerIntelligenceRoutes(api, deps)
	registerAlertRoutes(api, deps)
	registerWebhookRoutes(api, deps)

	return router
}

// collectorHealthCheck reports unhealthy when any configured chain's
// collector has reported HealthDegraded or HealthStopped, and always
// attaches per-chain lag/failure counts so an operator diagnosing a
// /health/detailed alert doesn't need to separately scrape metrics.
func collectorHealthCheck(pool *collector.Pool) func() (map[string]interface{}, error) {
	return func() (map[string]interface{}, error) {
		var unhealthy error
		detail := make(map[string]interface{})
		for _, status := range pool.Status() {
			detail[string(status.Chain)] = map[string]interface{}{
				"health":               string(status.Health),
				"lag":                  status.Lag,
				"consecutive_failures": status.ConsecutiveFailures,
			}
			switch status.Health {
			case collector.HealthDegraded:
				unhealthy = fmt.Errorf("chain %s degraded: lag %d blocks, %d consecutive failures", status.Chain, status.Lag, status.ConsecutiveFailures)
			case collector.HealthStopped:
				unhealthy = fmt.Errorf("chain %s collector stopped", status.Chain)
			}
		}
		return detail, unhealthy
	}
}
