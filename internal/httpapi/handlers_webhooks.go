package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
)

// registerWebhookRoutes binds GET/POST /api/v1/webhooks to the sink store
// (spec §4.7, §6). Delivery itself is triggered by the alert engine, not
// from this surface.
func registerWebhookRoutes(api *mux.Router, deps Dependencies) {
	api.HandleFunc("/webhooks", handleListWebhooks(deps)).Methods(http.MethodGet)
	api.HandleFunc("/webhooks", handleRegisterWebhook(deps)).Methods(http.MethodPost)
}

func handleListWebhooks(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sinks, err := deps.Sinks.Sinks(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, sinks)
	}
}

type registerWebhookRequest struct {
	URL                 string              `json:"url"`
	Method              string              `json:"method"`
	Headers             map[string]string   `json:"headers"`
	Format              string              `json:"format"`
	EventFilters        []string            `json:"event_filters"`
	SeverityFilters     []string            `json:"severity_filters"`
	MinDeliveryInterval int64               `json:"min_delivery_interval_seconds"`
	Enabled             bool                `json:"enabled"`
}

func handleRegisterWebhook(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerWebhookRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.URL == "" {
			httputil.BadRequest(w, "url is required")
			return
		}
		method := req.Method
		if method == "" {
			method = http.MethodPost
		}
		sink := domain.WebhookRegistration{
			URL: req.URL, Method: method, Headers: req.Headers,
			Format:              domain.PayloadFormat(req.Format),
			EventFilters:        req.EventFilters,
			SeverityFilters:     req.SeverityFilters,
			MinDeliveryInterval: secondsToDuration(req.MinDeliveryInterval),
			Enabled:             req.Enabled,
		}
		saved, err := deps.Sinks.Put(r.Context(), sink)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		httputil.RespondCreated(w, saved)
	}
}
