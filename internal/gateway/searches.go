package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/propyield/platform/internal/modules/alerts"
)

// handleCreateSearch implements "POST /api/v1/searches" (spec.md §4.7's
// saved-search CRUD surface).
func (s *Server) handleCreateSearch(w http.ResponseWriter, r *http.Request) {
	var search alerts.SavedSearch
	if err := json.NewDecoder(r.Body).Decode(&search); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if search.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	search.ID = ""

	saved, err := s.alerts.SaveSavedSearch(search)
	if err != nil {
		s.writeAppErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	search, err := s.alerts.GetSavedSearch(id)
	if err != nil {
		s.writeAppErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, search)
}

func (s *Server) handleUpdateSearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.alerts.GetSavedSearch(id); err != nil {
		s.writeAppErr(w, err)
		return
	}

	var search alerts.SavedSearch
	if err := json.NewDecoder(r.Body).Decode(&search); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	search.ID = id

	saved, err := s.alerts.SaveSavedSearch(search)
	if err != nil {
		s.writeAppErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteSearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.alerts.DeleteSavedSearch(id); err != nil {
		s.writeAppErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
