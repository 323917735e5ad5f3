package server

import (
	"net/http"

	"github.com/pinotpulse/ingest/pkg/provider"
)

// providerView is the catalog entry as the console renders it.
type providerView struct {
	Kind            string               `json:"kind"`
	DisplayName     string               `json:"display_name"`
	Category        string               `json:"category"`
	Mode            string               `json:"mode"`
	DefaultSchedule string               `json:"default_schedule,omitempty"`
	ConfigFields    []provider.FieldSpec `json:"config_fields"`
	CredFields      []provider.FieldSpec `json:"credential_fields,omitempty"`
}

func viewOf(s *provider.Spec) providerView {
	return providerView{
		Kind:            s.Kind,
		DisplayName:     s.DisplayName,
		Category:        s.Category,
		Mode:            string(s.Mode),
		DefaultSchedule: s.DefaultSchedule,
		ConfigFields:    s.ConfigFields,
		CredFields:      s.CredFields,
	}
}

func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	specs := s.providers.List()
	views := make([]providerView, 0, len(specs))
	for _, spec := range specs {
		views = append(views, viewOf(spec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": views})
}

func (s *Server) getProvider(w http.ResponseWriter, r *http.Request) {
	spec, err := s.providers.Get(r.PathValue("kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(spec))
}
