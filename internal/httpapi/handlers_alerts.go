package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
)

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}

// registerAlertRoutes binds GET/POST /api/v1/alerts/rules to the alert
// rule store (spec §4.7, §6). Rule evaluation itself runs inline with
// ingestion, not over HTTP.
func registerAlertRoutes(api *mux.Router, deps Dependencies) {
	api.HandleFunc("/alerts/rules", handleListAlertRules(deps)).Methods(http.MethodGet)
	api.HandleFunc("/alerts/rules", handlePutAlertRule(deps)).Methods(http.MethodPost)
}

func handleListAlertRules(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules, err := deps.Rules.Rules(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, rules)
	}
}

type putAlertRuleRequest struct {
	Name            string                   `json:"name"`
	Severity        string                   `json:"severity"`
	Conditions      []domain.AlertCondition  `json:"conditions"`
	MessageTemplate string                   `json:"message_template"`
	RateLimitWindow int64                    `json:"rate_limit_window_seconds"`
	Enabled         bool                     `json:"enabled"`
}

func handlePutAlertRule(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req putAlertRuleRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.Name == "" {
			httputil.BadRequest(w, "name is required")
			return
		}
		rule := domain.AlertRule{
			Name: req.Name, Severity: req.Severity, Conditions: req.Conditions,
			MessageTemplate: req.MessageTemplate,
			RateLimitWindow: secondsToDuration(req.RateLimitWindow),
			Enabled:         req.Enabled,
		}
		saved, err := deps.Rules.Put(r.Context(), rule)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		httputil.RespondCreated(w, saved)
	}
}
