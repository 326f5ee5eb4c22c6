package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
	"github.com/jackdawsentry/sentry-core/internal/risk"
)

// registerAnalysisRoutes binds GET/POST /api/v1/analysis/... to the entity
// store and risk engine (spec §6).
func registerAnalysisRoutes(api *mux.Router, deps Dependencies) {
	api.HandleFunc("/analysis/addresses/{chain}/{address}", handleGetAddress(deps)).Methods(http.MethodGet)
	api.HandleFunc("/analysis/addresses/{chain}/{address}/labels", handleListLabels(deps)).Methods(http.MethodGet)
	api.HandleFunc("/analysis/entities/{id}", handleGetEntity(deps)).Methods(http.MethodGet)
	api.HandleFunc("/analysis/entities", handleCreateEntity(deps)).Methods(http.MethodPost)
	api.HandleFunc("/analysis/risk-score", handleScoreRisk(deps)).Methods(http.MethodPost)
}

func handleGetAddress(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		addr, err := deps.Entities.GetAddress(r.Context(), domain.Chain(vars["chain"]), vars["address"])
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, addr)
	}
}

func handleListLabels(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		target := domain.LabelTarget{Kind: "address", ID: vars["chain"] + ":" + vars["address"]}
		labels, err := deps.Entities.Labels(r.Context(), target)
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, labels)
	}
}

func handleGetEntity(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entity, err := deps.Entities.GetEntity(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, entity)
	}
}

type createEntityRequest struct {
	Name string            `json:"name"`
	Type domain.EntityType `json:"type"`
}

func handleCreateEntity(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createEntityRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		id, err := deps.Entities.CreateEntity(r.Context(), domain.Entity{Name: req.Name, Type: req.Type})
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.RespondCreated(w, map[string]string{"id": id})
	}
}

type scoreRiskRequest struct {
	Kind           domain.RiskTargetKind    `json:"kind"`
	ID             string                   `json:"id"`
	Chain          domain.Chain             `json:"chain"`
	Address        string                   `json:"address"`
	AgeDays        float64                  `json:"age_days"`
	VolumeScore    float64                  `json:"volume_score"`
	Counterparties []risk.CounterpartyRisk  `json:"counterparties"`
}

type scoreRiskResponse struct {
	Score           float64            `json:"score"`
	FactorBreakdown map[string]float64 `json:"factor_breakdown"`
}

// handleScoreRisk scores an address/entity/transaction. For an address
// target the handler loads the address's labels from the entity store; the
// caller supplies age, volume and counterparties. The request carries no
// pattern matches, so none are passed to the engine. The engine itself
// performs no I/O.
func handleScoreRisk(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scoreRiskRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}

		target := risk.Target{Kind: req.Kind, ID: req.ID, Chain: req.Chain, Address: req.Address}
		scoreCtx := risk.ScoreContext{AgeDays: req.AgeDays, VolumeScore: req.VolumeScore, Counterparties: req.Counterparties}

		if req.Kind == domain.RiskTargetAddress && req.Address != "" {
			labels, err := deps.Entities.Labels(r.Context(), domain.LabelTarget{Kind: "address", ID: string(req.Chain) + ":" + req.Address})
			if err != nil {
				httputil.InternalError(w, err.Error())
				return
			}
			scoreCtx.Labels = labels
		}

		score, breakdown, err := deps.Risk.Score(r.Context(), target, scoreCtx)
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, scoreRiskResponse{Score: score, FactorBreakdown: breakdown})
	}
}
