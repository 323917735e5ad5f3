package server

import (
	"net/http"
	"strconv"

	"github.com/pinotpulse/ingest/pkg/model"
)

type dlqListResponse struct {
	Entries []*model.DLQEntry `json:"entries"`
	Total   int               `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

func (s *Server) listDLQ(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadPipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	filter := model.DLQFilter{
		Stage:      model.ProcessingStage(q.Get("stage")),
		Resolution: model.Resolution(q.Get("resolution")),
		Limit:      50,
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 500 {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		filter.Offset = v
	}

	entries, total, err := s.store.ListDLQEntries(r.Context(), p.ID, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dlqListResponse{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

func (s *Server) retryDLQ(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadPipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.dlq.Retry(r.Context(), p.ID, r.PathValue("entry")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"resolution": string(model.ResolutionResolved)})
}

func (s *Server) discardDLQ(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadPipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.dlq.Discard(r.Context(), p.ID, r.PathValue("entry")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"resolution": string(model.ResolutionDiscarded)})
}

func (s *Server) retryAllDLQ(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadPipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resolved, failed, err := s.dlq.RetryAll(r.Context(), p.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"resolved": resolved,
		"failed":   failed,
	})
}
