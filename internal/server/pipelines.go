package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
	"github.com/pinotpulse/ingest/pkg/vault"
)

// pipelineRequest is the console's create/update payload. Credentials
// ride alongside the config but are stored in the vault, never in the
// pipeline row.
type pipelineRequest struct {
	Name           string                  `json:"name"`
	Slug           string                  `json:"slug"`
	Description    string                  `json:"description"`
	Provider       string                  `json:"provider"`
	ProviderConfig map[string]interface{}  `json:"provider_config"`
	Credentials    map[string]string       `json:"credentials,omitempty"`
	TargetTable    string                  `json:"target_table"`
	FieldMappings  map[string]string       `json:"field_mappings"`
	Processing     *model.ProcessingPolicy `json:"processing"`
	Enabled        *bool                   `json:"enabled"`
	Priority       model.Priority          `json:"priority"`
	Owner          string                  `json:"owner"`
	Tags           []string                `json:"tags"`
}

type listResponse struct {
	Pipelines []*model.Pipeline   `json:"pipelines"`
	Summary   *model.FleetSummary `json:"summary"`
}

func (s *Server) listPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.store.ListPipelines(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.store.FleetSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Pipelines: pipelines, Summary: summary})
}

func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadPipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) createPipeline(w http.ResponseWriter, r *http.Request) {
	var req pipelineRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := s.buildPipeline(&req)
	if err != nil {
		writeError(w, err)
		return
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt

	// Secrets go to the vault before the row exists; a failed row write
	// revokes them so nothing dangles.
	if len(req.Credentials) > 0 {
		ref, err := s.vault.Store(r.Context(), p.ID, vault.Credentials(req.Credentials))
		if err != nil {
			writeError(w, err)
			return
		}
		p.CredentialReference = ref
	}

	p.Status = model.StatusDraft
	if s.configComplete(p, req.Credentials) {
		p.Status = model.StatusConfigured
	}

	if err := s.store.CreatePipeline(r.Context(), p); err != nil {
		if p.CredentialReference != "" {
			if rerr := s.vault.Revoke(r.Context(), p.CredentialReference); rerr != nil {
				s.logger.Error("revoking orphaned credentials failed",
					zap.String("pipeline_id", p.ID), zap.Error(rerr))
			}
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updatePipeline(w http.ResponseWriter, r *http.Request) {
	current, err := s.loadPipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req pipelineRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Slug != "" && req.Slug != current.Slug {
		writeError(w, errors.New(errors.ErrorTypeValidation, "slug is immutable"))
		return
	}
	if req.Provider != "" && req.Provider != current.ProviderKind {
		writeError(w, errors.New(errors.ErrorTypeValidation, "provider kind is immutable"))
		return
	}
	req.Slug = current.Slug
	req.Provider = current.ProviderKind

	p, err := s.buildPipeline(&req)
	if err != nil {
		writeError(w, err)
		return
	}
	p.ID = current.ID
	p.Status = current.Status
	p.Watermark = current.Watermark
	p.CredentialReference = current.CredentialReference
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	oldRef := current.CredentialReference
	if len(req.Credentials) > 0 {
		ref, err := s.vault.Store(r.Context(), p.ID, vault.Credentials(req.Credentials))
		if err != nil {
			writeError(w, err)
			return
		}
		p.CredentialReference = ref
	}

	if p.Status == model.StatusDraft && s.configComplete(p, req.Credentials) {
		p.Status = model.StatusConfigured
	}

	if err := s.store.UpdatePipelineConfig(r.Context(), p); err != nil {
		if len(req.Credentials) > 0 && p.CredentialReference != oldRef {
			if rerr := s.vault.Revoke(r.Context(), p.CredentialReference); rerr != nil {
				s.logger.Error("revoking orphaned credentials failed",
					zap.String("pipeline_id", p.ID), zap.Error(rerr))
			}
		}
		writeError(w, err)
		return
	}
	// The old secrets are superseded; leaving them would accumulate
	// orphans in the vault.
	if oldRef != "" && oldRef != p.CredentialReference {
		if rerr := s.vault.Revoke(r.Context(), oldRef); rerr != nil {
			s.logger.Warn("revoking superseded credentials failed",
				zap.String("pipeline_id", p.ID), zap.Error(rerr))
		}
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePipeline(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadPipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if p.Status.IsActive() {
		writeError(w, errors.New(errors.ErrorTypeConflict, "stop the pipeline before deleting it"))
		return
	}
	if err := s.store.DeletePipeline(r.Context(), p.ID); err != nil {
		writeError(w, err)
		return
	}
	if p.CredentialReference != "" {
		if err := s.vault.Revoke(r.Context(), p.CredentialReference); err != nil {
			s.logger.Warn("revoking credentials for deleted pipeline failed",
				zap.String("pipeline_id", p.ID), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type actionRequest struct {
	Action string `json:"action"`
}

func (s *Server) pipelineAction(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadPipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	switch req.Action {
	case "start":
		err = s.manager.Start(r.Context(), p.ID)
	case "stop":
		err = s.manager.Stop(r.Context(), p.ID)
	case "pause":
		err = s.manager.Pause(r.Context(), p.ID)
	case "resume":
		err = s.manager.Resume(r.Context(), p.ID)
	case "restart":
		err = s.manager.Restart(r.Context(), p.ID)
	default:
		err = errors.Newf(errors.ErrorTypeValidation, "unknown action %q", req.Action)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	updated, err := s.store.GetPipeline(r.Context(), p.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"action": req.Action,
		"status": updated.Status,
	})
}

// buildPipeline validates the request against the provider schema and
// assembles the row. Scheduling and incremental settings surface from
// provider_config onto the pipeline for the scheduler and watermark
// tracking, while staying visible to the source adapter.
func (s *Server) buildPipeline(req *pipelineRequest) (*model.Pipeline, error) {
	if req.Name == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "name is required")
	}
	if !model.ValidSlug(req.Slug) {
		return nil, errors.New(errors.ErrorTypeValidation, "slug must be lowercase alphanumerics and hyphens")
	}
	spec, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	if req.TargetTable == "" || !model.ValidTarget(req.TargetTable) {
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown target_table %q", req.TargetTable)
	}

	cfg := spec.ApplyDefaults(req.ProviderConfig)
	if fieldErrs := spec.ValidateConfig(cfg); len(fieldErrs) > 0 {
		err := errors.Newf(errors.ErrorTypeValidation, "provider config invalid (%d errors)", len(fieldErrs))
		for _, fe := range fieldErrs {
			err = err.WithDetail(fe.Field, fe.Message)
		}
		return nil, err
	}
	if len(req.Credentials) > 0 {
		if fieldErrs := spec.ValidateCredentials(cfg, credsAsValues(req.Credentials)); len(fieldErrs) > 0 {
			err := errors.Newf(errors.ErrorTypeValidation, "credentials invalid (%d errors)", len(fieldErrs))
			for _, fe := range fieldErrs {
				err = err.WithDetail(fe.Field, fe.Message)
			}
			return nil, err
		}
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityStandard
	}
	if !model.ValidPriority(priority) {
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown priority %q", priority)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	var processing model.ProcessingPolicy
	if req.Processing != nil {
		processing = *req.Processing
		if processing.BatchSize < 0 || processing.MaxRetries < 0 {
			return nil, errors.New(errors.ErrorTypeValidation, "processing policy values must be non-negative")
		}
		if processing.ErrorThresholdPct < 0 || processing.ErrorThresholdPct > 100 {
			return nil, errors.New(errors.ErrorTypeValidation, "error_threshold_pct must be between 0 and 100")
		}
	}

	p := &model.Pipeline{
		Name:           req.Name,
		Slug:           req.Slug,
		Description:    req.Description,
		ProviderKind:   req.Provider,
		ProviderConfig: cfg,
		TargetTable:    req.TargetTable,
		FieldMappings:  req.FieldMappings,
		Processing:     processing,
		Enabled:        enabled,
		Priority:       priority,
		Owner:          req.Owner,
		Tags:           req.Tags,
	}

	if v, ok := cfg["schedule_expression"].(string); ok {
		p.ScheduleExpression = v
	}
	if v, ok := cfg["schedule_timezone"].(string); ok {
		p.ScheduleTimezone = v
	}
	if v, ok := cfg["incremental_enabled"].(bool); ok {
		p.IncrementalEnabled = v
	}
	if v, ok := cfg["watermark_column"].(string); ok {
		p.WatermarkColumn = v
	}
	return p, nil
}

// configComplete reports whether the full provider schema is satisfied,
// which is what promotes a draft to configured.
func (s *Server) configComplete(p *model.Pipeline, creds map[string]string) bool {
	spec, err := s.providers.Get(p.ProviderKind)
	if err != nil {
		return false
	}
	return spec.CheckComplete(p.ProviderConfig, credsAsValues(creds)) == nil
}

func credsAsValues(creds map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(creds))
	for k, v := range creds {
		out[k] = v
	}
	return out
}
