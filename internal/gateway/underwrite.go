package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/propyield/platform/internal/modules/underwriting"
)

// underwriteRequest is the body for "POST /api/v1/underwrite" (spec.md
// §4.8 "on-demand exact underwrite, bypassing the event bus for
// synchronous UI calls").
type underwriteRequest struct {
	ListingID   string                   `json:"listingId"`
	Assumptions underwriting.Assumptions `json:"assumptions"`
}

func (s *Server) handleUnderwriteOnDemand(w http.ResponseWriter, r *http.Request) {
	var req underwriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ListingID == "" {
		s.writeError(w, http.StatusBadRequest, "listingId is required")
		return
	}
	if err := req.Assumptions.Validate(); err != nil {
		s.writeAppErr(w, err)
		return
	}

	outcome, err := s.engine.ComputeExact(req.ListingID, req.Assumptions)
	if err != nil {
		s.writeAppErr(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, outcome)
}

// handleUnderwriteGrid implements "GET /api/v1/underwrite/grid", returning
// the single grid cell addressed by the query parameters (spec.md §4.6.2's
// grid key fields).
func (s *Server) handleUnderwriteGrid(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	listingVersion, err := strconv.ParseInt(q.Get("listingVersion"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "listingVersion must be an integer")
		return
	}
	downPctBin, err := strconv.ParseFloat(q.Get("downPctBin"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "downPctBin must be a number")
		return
	}
	rateBpsBin, err := strconv.Atoi(q.Get("rateBpsBin"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "rateBpsBin must be an integer")
		return
	}
	amortMonths, err := strconv.Atoi(q.Get("amortMonths"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "amortMonths must be an integer")
		return
	}

	row, err := s.underwriting.GetGridRow(underwriting.GridKey{
		ListingID:      q.Get("listingId"),
		ListingVersion: listingVersion,
		RentScenario:   underwriting.RentScenario(q.Get("rentScenario")),
		DownPctBin:     downPctBin,
		RateBpsBin:     rateBpsBin,
		AmortMonths:    amortMonths,
	})
	if err != nil {
		s.writeAppErr(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, row)
}
