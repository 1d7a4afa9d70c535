package gateway

import (
	"net/http"

	"github.com/propyield/platform/internal/eventbus"
)

// handleListAlerts implements "GET /api/v1/alerts?userId=..." (spec.md
// §4.7's alert history surface).
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	list, err := s.alerts.ListAlertsForUser(userID)
	if err != nil {
		s.writeAppErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

// deadLetterSummary flattens one service's DeadLetterStore entries under a
// service label, since the gateway fans a request out across every
// module's store (SPEC_FULL.md's supplemented admin surface: the spec
// names the dead-letter park but not an inspection route, and operators
// need one to triage stuck events per spec.md §4.1's retry/DLQ model).
type deadLetterSummary struct {
	Service string                    `json:"service"`
	Items   []eventbus.ParkedEnvelope `json:"items"`
}

// handleDeadLetters implements "GET /api/v1/admin/deadletters", listing the
// parked envelopes from every service's dead-letter store known to the
// gateway.
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	const limit = 50
	out := make([]deadLetterSummary, 0, len(s.deadLetters))
	for service, dlq := range s.deadLetters {
		items, err := dlq.List(limit)
		if err != nil {
			s.writeAppErr(w, err)
			return
		}
		out = append(out, deadLetterSummary{Service: service, Items: items})
	}
	s.writeJSON(w, http.StatusOK, out)
}
