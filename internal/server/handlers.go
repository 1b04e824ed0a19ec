package server

import (
	"encoding/json"
	"net/http"

	"github.com/sw33tLie/togetter/internal/utils"
	"github.com/sw33tLie/togetter/pkg/storage"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.Controller.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st.Selection)
}

// handlePostSettings is the configuration surface: the page posts the
// whole settings object back.
func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var settings storage.Selection
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if settings.GroupID == "" {
		http.Error(w, "groupId is required", http.StatusBadRequest)
		return
	}
	utils.Log.Infof("Configuration received: %+v", settings)
	s.Controller.Configure(settings)
	w.WriteHeader(http.StatusAccepted)
}

type RecordResponse struct {
	Selection storage.Selection `json:"selection"`
	Label     string            `json:"label"`
	Items     string            `json:"items"`
	Names     []string          `json:"names"`
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	st, err := s.Controller.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if st.Cache.IsEmpty() {
		http.Error(w, "no record cached", http.StatusNotFound)
		return
	}
	rec := st.Cache.Record
	resp := RecordResponse{
		Selection: st.Cache.Selection,
		Label:     rec.Label,
		Items:     utils.HexBytes(rec.Items()),
		Names:     make([]string, 0, len(rec.Entries)),
	}
	for i := range rec.Entries {
		resp.Names = append(resp.Names, rec.Name(i))
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
