package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/model"
	"github.com/pinotpulse/ingest/pkg/vault"
)

type testRequest struct {
	Provider       string                 `json:"provider"`
	ProviderConfig map[string]interface{} `json:"provider_config"`
	Credentials    map[string]string      `json:"credentials,omitempty"`
}

// testConfig probes a connection from an unsaved console form.
func (s *Server) testConfig(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result := s.tester.TestConfig(r.Context(), req.Provider, req.ProviderConfig, vault.Credentials(req.Credentials))
	writeJSON(w, http.StatusOK, result)
}

// testPipeline probes a saved pipeline using its vaulted credentials.
func (s *Server) testPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadPipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.tester.TestPipeline(r.Context(), p))
}

func (s *Server) pipelineMetrics(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadPipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}

	to := time.Now().UTC()
	from := to.Add(-1 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, errors.New(errors.ErrorTypeValidation, "from must be RFC3339"))
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, errors.New(errors.ErrorTypeValidation, "to must be RFC3339"))
			return
		}
	}

	summary, err := s.agg.Summary(r.Context(), p.ID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// uploadFile accepts a multipart file into the pipeline's spool folder
// and kicks off a processing pass when the pipeline is active.
func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	p, err := s.loadPipeline(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if p.ProviderKind != "file_upload" {
		writeError(w, errors.Newf(errors.ErrorTypeConflict,
			"provider %q does not accept uploads", p.ProviderKind))
		return
	}

	maxMB := 500
	if v, ok := p.ProviderConfig["max_file_size_mb"].(float64); ok {
		maxMB = int(v)
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxMB)<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errors.Wrap(err, errors.ErrorTypeValidation, "multipart field \"file\" is required"))
		return
	}
	defer file.Close() //nolint:errcheck

	name := filepath.Base(header.Filename)
	if name == "" || name == "." || strings.HasPrefix(name, "..") {
		writeError(w, errors.New(errors.ErrorTypeValidation, "invalid upload filename"))
		return
	}

	spool := "uploads"
	if v, ok := p.ProviderConfig["spool_dir"].(string); ok && v != "" {
		spool = v
	}
	dir := filepath.Join(spool, p.ID, "incoming")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		writeError(w, errors.Wrap(err, errors.ErrorTypeInternal, "preparing spool directory failed"))
		return
	}

	dest := filepath.Join(dir, name)
	out, err := os.Create(dest)
	if err != nil {
		writeError(w, errors.Wrap(err, errors.ErrorTypeInternal, "writing upload failed"))
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		writeError(w, errors.Wrap(err, errors.ErrorTypeInternal, "writing upload failed"))
		return
	}
	if err := out.Close(); err != nil {
		writeError(w, errors.Wrap(err, errors.ErrorTypeInternal, "writing upload failed"))
		return
	}

	if sum := r.FormValue("sha256"); sum != "" {
		if err := os.WriteFile(dest+".sha256", []byte(sum+"\n"), 0o640); err != nil {
			s.logger.Warn("writing checksum sidecar failed",
				zap.String("file", name), zap.Error(err))
		}
	}

	triggered := false
	if p.Status == model.StatusRunning || p.Status == model.StatusDegraded {
		if err := s.manager.TriggerPass(r.Context(), p.ID); err != nil {
			s.logger.Warn("upload pass trigger failed",
				zap.String("pipeline_id", p.ID), zap.Error(err))
		} else {
			triggered = true
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"file":      name,
		"triggered": triggered,
	})
}
