package httpapi

import (
	"net/http"

	"vidgend/internal/artifact"
	"vidgend/internal/capability"
	"vidgend/internal/scheduler"
	"vidgend/internal/validate"
	"vidgend/pkg/types"
)

// badRequestError covers request decoding problems detected before
// validation (malformed multipart body, non-numeric form fields).
type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

func errBadRequest(msg string) error { return badRequestError{msg: msg} }

// statusFor maps a failure to its HTTP status code. Everything not
// client-caused or backpressure is a 500: timeouts, load failures, resource
// exhaustion and internal model faults alike.
func statusFor(err error) int {
	switch {
	case validate.IsValidation(err):
		return http.StatusBadRequest
	case isBadRequest(err):
		return http.StatusBadRequest
	case scheduler.IsOverloaded(err):
		return http.StatusServiceUnavailable
	case capability.IsTaskNotFound(err),
		scheduler.IsJobNotFound(err),
		artifact.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func isBadRequest(err error) bool {
	_, ok := err.(badRequestError)
	return ok
}

// writeError writes the consistent {"detail": ...} payload for err.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if scheduler.IsOverloaded(err) {
		IncrementBackpressure("queue_full")
	}
	writeJSON(w, status, types.ErrorResponse{Detail: err.Error()})
}
