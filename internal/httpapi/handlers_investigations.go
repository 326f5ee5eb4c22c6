package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
)

// registerInvestigationRoutes binds GET/POST/PUT /api/v1/investigations/...
// to the pattern detector and attribution engine (spec §6).
func registerInvestigationRoutes(api *mux.Router, deps Dependencies) {
	api.HandleFunc("/investigations/patterns/ingest", handleIngestTransaction(deps)).Methods(http.MethodPost)
	api.HandleFunc("/investigations/attribution/{address}", handleGetAttribution(deps)).Methods(http.MethodGet)
	api.HandleFunc("/investigations/attribution/{address}/cluster", handleGetCluster(deps)).Methods(http.MethodGet)
	api.HandleFunc("/investigations/attribution/merge", handleMergeAddresses(deps)).Methods(http.MethodPost)
	api.HandleFunc("/investigations/attribution/split", handleSplitEntity(deps)).Methods(http.MethodPut)
}

// handleIngestTransaction runs a single transaction through the pattern
// detector and returns any matches produced. The collector pool is the
// normal caller of Detector.Ingest; this route exists for replay/backfill
// and manual investigation from the API.
func handleIngestTransaction(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tx domain.Transaction
		if !httputil.DecodeJSON(w, r, &tx) {
			return
		}
		matches, err := deps.Patterns.Ingest(r.Context(), tx)
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, matches)
	}
}

func handleGetAttribution(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := mux.Vars(r)["address"]
		entityID, ok := deps.Attribution.Attribute(addr)
		if !ok {
			httputil.NotFound(w, "address is not attributed to any entity")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"address": addr, "entity_id": entityID})
	}
}

func handleGetCluster(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := mux.Vars(r)["address"]
		httputil.WriteJSON(w, http.StatusOK, deps.Attribution.Cluster(addr))
	}
}

type mergeAddressesRequest struct {
	AddressA   string  `json:"address_a"`
	AddressB   string  `json:"address_b"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

func handleMergeAddresses(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mergeAddressesRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if req.AddressA == "" || req.AddressB == "" {
			httputil.BadRequest(w, "address_a and address_b are required")
			return
		}
		if err := deps.Attribution.Merge(r.Context(), req.AddressA, req.AddressB, req.Reason, req.Confidence); err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.RespondNoContent(w)
	}
}

type splitEntityRequest struct {
	EntityID string `json:"entity_id"`
	Reason   string `json:"reason"`
}

func handleSplitEntity(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireAdminRole(w, r) {
			return
		}
		var req splitEntityRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if err := deps.Attribution.Split(r.Context(), req.EntityID, req.Reason); err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.RespondNoContent(w)
	}
}
