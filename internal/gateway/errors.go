package gateway

import (
	"net/http"

	"github.com/propyield/platform/internal/apperr"
)

// statusFor maps an apperr.Kind to the HTTP status the gateway returns for
// it, directly from the typed error taxonomy with no service-specific
// mapping tables.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.Transient:
		return http.StatusServiceUnavailable
	case apperr.Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeAppErr(w http.ResponseWriter, err error) {
	s.writeError(w, statusFor(err), err.Error())
}
