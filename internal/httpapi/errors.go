package httpapi

import (
	"net/http"

	"github.com/jackdawsentry/sentry-core/internal/platform/errors"
	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
)

// writeServiceError maps a *errors.ServiceError to its declared HTTP status
// (e.g. setup's duplicate-initialize Conflict) instead of collapsing every
// failure to 500, per spec §6's status code table.
func writeServiceError(w http.ResponseWriter, err error) {
	if svcErr, ok := err.(*errors.ServiceError); ok {
		httputil.WriteErrorWithCode(w, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message)
		return
	}
	httputil.InternalError(w, err.Error())
}
