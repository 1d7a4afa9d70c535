package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/modules/listings"
)

const (
	defaultPageLimit = 25
	maxPageLimit     = 100
)

// propertySearchResponse is the composed shape spec.md §4.8 returns for a
// search page: listing rows plus pagination bookkeeping, no nested
// enrichment/underwriting (those are detail-only, to keep the list route
// cheap).
type propertySearchResponse struct {
	Items  []*listings.Listing `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// handleSearchProperties implements "GET /api/v1/properties" (spec.md
// §4.8), cached behind ResponseCache when enabled since the result set
// changes only as fast as the Ingestor's poll cadence.
func (s *Server) handleSearchProperties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	key := "properties:" + q.Encode()
	if s.enableCache {
		if body, ok := s.cache.Get(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
			return
		}
	}

	minBeds, _ := strconv.Atoi(q.Get("minBeds"))
	maxBeds, _ := strconv.Atoi(q.Get("maxBeds"))
	minPrice, _ := strconv.ParseFloat(q.Get("minPrice"), 64)
	maxPrice, _ := strconv.ParseFloat(q.Get("maxPrice"), 64)

	limit := defaultPageLimit
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset := 0
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		offset = v
	}

	items, total, err := s.listings.Search(
		q.Get("city"), q.Get("province"),
		listings.PropertyType(q.Get("propertyType")), listings.Status(q.Get("status")),
		minBeds, maxBeds, minPrice, maxPrice, limit, offset)
	if err != nil {
		s.writeAppErr(w, err)
		return
	}

	body, err := json.Marshal(propertySearchResponse{Items: items, Total: total, Limit: limit, Offset: offset})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	if s.enableCache {
		s.cache.Set(key, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// propertyDetailResponse composes every module's view of one listing:
// the listing, its enrichment, its rent estimate, the grid rows of its
// current listingVersion, and (when a userId is given) that user's alerts
// for it.
type propertyDetailResponse struct {
	Listing      *listings.Listing `json:"listing"`
	Enrichment   interface{}       `json:"enrichment,omitempty"`
	RentEstimate interface{}       `json:"rentEstimate,omitempty"`
	Underwriting interface{}       `json:"underwriting,omitempty"`
	Alerts       interface{}       `json:"alerts,omitempty"`
}

// handlePropertyDetail implements "GET /api/v1/properties/{id}". Enrichment,
// rent estimate, and alerts are each optional/best-effort: a NotFound from
// any of them omits that section rather than failing the whole response,
// since a listing can exist with some downstream sidecars not yet computed.
func (s *Server) handlePropertyDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	key := "property:" + id + ":" + r.URL.Query().Get("userId")
	if s.enableCache {
		if body, ok := s.cache.Get(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
			return
		}
	}

	listing, err := s.listings.GetByID(id)
	if err != nil {
		s.writeAppErr(w, err)
		return
	}

	resp := propertyDetailResponse{Listing: listing}

	if enr, err := s.enrichment.GetByListingID(id); err == nil {
		resp.Enrichment = enr
	} else if apperr.KindOf(err) != apperr.NotFound {
		s.writeAppErr(w, err)
		return
	}

	if re, err := s.rentEstimate.GetByListingID(id); err == nil {
		resp.RentEstimate = re
	} else if apperr.KindOf(err) != apperr.NotFound {
		s.writeAppErr(w, err)
		return
	}

	if rows, err := s.underwriting.GetGridRowsForVersion(id, listing.ListingVersion); err == nil && len(rows) > 0 {
		resp.Underwriting = rows
	} else if err != nil && apperr.KindOf(err) != apperr.NotFound {
		s.writeAppErr(w, err)
		return
	}

	if userID := r.URL.Query().Get("userId"); userID != "" {
		if al, err := s.alerts.ListAlertsForUserAndListing(userID, id); err == nil {
			resp.Alerts = al
		} else if apperr.KindOf(err) != apperr.NotFound {
			s.writeAppErr(w, err)
			return
		}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	if s.enableCache {
		s.cache.Set(key, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
