package api

import (
	"errors"
	"net/http"

	"github.com/gymowl/gymowl/pkg/billing"
	"github.com/gymowl/gymowl/pkg/httputil"
	"github.com/gymowl/gymowl/pkg/observability"
)

// statusFor maps a billing error kind to its HTTP status
func statusFor(kind billing.ErrorKind) int {
	switch kind {
	case billing.KindNotFound, billing.KindNoActiveSubscription:
		return http.StatusNotFound
	case billing.KindValidation:
		return http.StatusBadRequest
	case billing.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError answers with the status for err's kind. notFound replaces
// the message of not_found errors; 5xx causes are logged, never returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, err error, notFound string) {
	kind := billing.KindOf(err)
	status := statusFor(kind)

	if status == http.StatusInternalServerError {
		logger.WithContext(r.Context()).WithError(err).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			Error("Billing request failed")
		httputil.WriteInternalError(w)
		return
	}

	message := err.Error()
	var be *billing.Error
	if errors.As(err, &be) {
		message = be.Message
	}
	if kind == billing.KindNotFound && notFound != "" {
		message = notFound
	}
	httputil.WriteErrorMessage(w, status, message)
}
