package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
)

// registerBlockchainRoutes binds GET /api/v1/blockchain/... to the ledger
// registry and collector pool (spec §6).
func registerBlockchainRoutes(api *mux.Router, deps Dependencies) {
	api.HandleFunc("/blockchain/chains", handleListChains(deps)).Methods(http.MethodGet)
	api.HandleFunc("/blockchain/{chain}/balance/{address}", handleGetBalance(deps)).Methods(http.MethodGet)
	api.HandleFunc("/blockchain/collectors/status", handleCollectorStatus(deps)).Methods(http.MethodGet)
}

func handleListChains(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, deps.Ledgers.Chains())
	}
}

func handleGetBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		asset := httputil.QueryString(r, "asset", "native")

		client, err := deps.Ledgers.Get(domain.Chain(vars["chain"]))
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		balance, err := client.Balance(r.Context(), vars["address"], asset)
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"chain": vars["chain"], "address": vars["address"], "asset": asset, "balance": balance,
		})
	}
}

func handleCollectorStatus(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, deps.Collectors.Status())
	}
}
