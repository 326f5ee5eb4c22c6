package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
)

// registerSetupRoutes binds GET /api/v1/setup/status and
// POST /api/v1/setup/initialize to the first-launch bootstrapper. Both
// routes are listed in SkipAuthPaths since neither admin account nor JWT
// secret exists before setup completes (spec §9 testable property 9).
func registerSetupRoutes(api *mux.Router, deps Dependencies) {
	api.HandleFunc("/setup/status", handleSetupStatus(deps)).Methods(http.MethodGet)
	api.HandleFunc("/setup/initialize", handleSetupInitialize(deps)).Methods(http.MethodPost)
}

func handleSetupStatus(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := deps.Setup.Status(r.Context())
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, status)
	}
}

type setupInitializeRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func handleSetupInitialize(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setupInitializeRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if err := deps.Setup.Initialize(r.Context(), req.Username, req.Email, req.Password, req.ConfirmPassword); err != nil {
			writeServiceError(w, err)
			return
		}
		httputil.RespondCreated(w, map[string]string{"username": req.Username})
	}
}
