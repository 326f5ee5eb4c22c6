package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
)

// registerAuthRoutes binds POST /api/v1/auth/login, the only credential
// exchange in the API surface (spec §6). It is listed in SkipAuthPaths.
func registerAuthRoutes(api *mux.Router, deps Dependencies) {
	api.HandleFunc("/auth/login", handleLogin(deps)).Methods(http.MethodPost)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func handleLogin(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		token, expiresAt, err := deps.Authenticator.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt.Format(time.RFC3339)})
	}
}
