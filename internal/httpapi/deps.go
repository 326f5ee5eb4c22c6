// Package httpapi is the thin HTTP boundary binding the analytical core's
// components to the route surface described in spec §6. It performs no
// analytical work itself: every handler decodes a request, calls into a
// core component, and writes the result as JSON.
package httpapi

import (
	"github.com/jackdawsentry/sentry-core/internal/alerting"
	"github.com/jackdawsentry/sentry-core/internal/auth"
	"github.com/jackdawsentry/sentry-core/internal/attribution"
	"github.com/jackdawsentry/sentry-core/internal/cases"
	"github.com/jackdawsentry/sentry-core/internal/collector"
	"github.com/jackdawsentry/sentry-core/internal/compliance"
	"github.com/jackdawsentry/sentry-core/internal/entitystore"
	"github.com/jackdawsentry/sentry-core/internal/evidence"
	"github.com/jackdawsentry/sentry-core/internal/ledger"
	"github.com/jackdawsentry/sentry-core/internal/pattern"
	"github.com/jackdawsentry/sentry-core/internal/platform/logging"
	"github.com/jackdawsentry/sentry-core/internal/platform/metrics"
	"github.com/jackdawsentry/sentry-core/internal/platform/middleware"
	"github.com/jackdawsentry/sentry-core/internal/platform/security"
	"github.com/jackdawsentry/sentry-core/internal/reports"
	"github.com/jackdawsentry/sentry-core/internal/risk"
	"github.com/jackdawsentry/sentry-core/internal/scheduler"
	"github.com/jackdawsentry/sentry-core/internal/setup"
	"github.com/jackdawsentry/sentry-core/internal/threatfeed"
	"github.com/jackdawsentry/sentry-core/internal/webhook"
)

// Dependencies wires every core component the router dispatches to. cmd/sentryd
// constructs one of these at startup; tests construct a partial one with the
// in-memory stores the relevant components already expose.
type Dependencies struct {
	Entities    *entitystore.Store
	Risk        *risk.Engine
	Patterns    *pattern.Detector
	Attribution *attribution.Engine
	Evidence    *evidence.Vault
	Cases       *cases.Store
	Compliance  *compliance.Assessor
	Reports     *reports.Store
	Alerts      *alerting.Engine
	Rules       *alerting.DBRuleStore
	Webhooks    *webhook.Dispatcher
	Sinks       *webhook.DBSinkStore
	Scheduler   *scheduler.Scheduler
	Setup       *setup.Bootstrapper
	Feeds       *threatfeed.Registry
	FeedSync    *threatfeed.Syncer
	Ledgers     *ledger.Registry
	Collectors  *collector.Pool

	Authenticator *auth.Authenticator
	Auth          *middleware.AuthMiddleware
	Logger        *logging.Logger
	Metrics       *metrics.Metrics
	Version       string

	// GatewaySharedSecret, when set, requires every request to carry a
	// matching X-Shared-Secret header, for deployments that sit behind an
	// ingress gateway and should not be reachable directly.
	GatewaySharedSecret string

	// EvidenceReplay guards POST /forensics/evidence against a retried
	// request creating two chain-of-custody entries for the same capture:
	// callers set X-Request-ID to the same value across retries.
	EvidenceReplay *security.ReplayProtection

	// AllowedOrigins lists the investigator UI origins permitted to call
	// this API cross-origin. Empty disables CORS entirely rather than
	// falling back to "*", since this API serves case evidence and
	// should never be reachable from an arbitrary origin.
	AllowedOrigins []string
}
