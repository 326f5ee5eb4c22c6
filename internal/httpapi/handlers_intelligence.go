package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
	"github.com/jackdawsentry/sentry-core/internal/threatfeed"
)

// registerIntelligenceRoutes binds GET/POST /api/v1/intelligence/threat-feeds
// and the per-feed sync trigger to the threat feed registry (spec §6, §4.8).
func registerIntelligenceRoutes(api *mux.Router, deps Dependencies) {
	api.HandleFunc("/intelligence/threat-feeds", handleListThreatFeeds(deps)).Methods(http.MethodGet)
	api.HandleFunc("/intelligence/threat-feeds", handleRegisterThreatFeed(deps)).Methods(http.MethodPost)
	api.HandleFunc("/intelligence/threat-feeds/{id}/sync", handleSyncThreatFeed(deps)).Methods(http.MethodPost)
}

func handleListThreatFeeds(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, deps.Feeds.List())
	}
}

type registerThreatFeedRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

func handleRegisterThreatFeed(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerThreatFeedRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		feed := deps.Feeds.Register(threatfeed.Feed{Name: req.Name, URL: req.URL, Kind: req.Kind, Enabled: true})
		httputil.RespondCreated(w, feed)
	}
}

func handleSyncThreatFeed(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.FeedSync.Sync(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]int{"ingested": n})
	}
}
