package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/internal/metrics"
	"github.com/pinotpulse/ingest/internal/store"
	"github.com/pinotpulse/ingest/pkg/config"
	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/registry"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
	"github.com/pinotpulse/ingest/pkg/provider"
	"github.com/pinotpulse/ingest/pkg/target"
	"github.com/pinotpulse/ingest/pkg/vault"
)

const openTimeout = 60 * time.Second

// Manager owns pipeline lifecycles. It is the only component that moves
// pipelines through starting, running, degraded, failed, paused, and
// stopped, and it runs one goroutine per active pipeline.
type Manager struct {
	store     *store.Store
	vault     vault.Vault
	providers *provider.Registry
	sources   *registry.Registry
	writer    target.Writer
	agg       *metrics.Aggregator
	health    *metrics.HealthEvaluator
	prom      *metrics.Collectors
	sched     *Scheduler
	proc      config.ProcessingConfig
	healthCfg config.HealthConfig
	logger    *zap.Logger

	mu   sync.Mutex
	runs map[string]*pipelineRun
}

// pipelineRun tracks one active pipeline's goroutine.
type pipelineRun struct {
	mode   model.ExecutionMode
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	// passing guards batch pipelines against overlapping passes when a
	// cron trigger fires while the previous pass is still running.
	passing atomic.Bool
}

// ManagerParams collects the manager's collaborators.
type ManagerParams struct {
	Store     *store.Store
	Vault     vault.Vault
	Providers *provider.Registry
	Sources   *registry.Registry
	Writer    target.Writer
	Agg       *metrics.Aggregator
	Prom      *metrics.Collectors
	Proc      config.ProcessingConfig
	Health    config.HealthConfig
}

// NewManager creates a manager. Nil Providers and Sources fall back to
// the package defaults.
func NewManager(p ManagerParams) *Manager {
	if p.Providers == nil {
		p.Providers = provider.Default()
	}
	return &Manager{
		store:     p.Store,
		vault:     p.Vault,
		providers: p.Providers,
		sources:   p.Sources,
		writer:    p.Writer,
		agg:       p.Agg,
		health:    metrics.NewHealthEvaluator(p.Health.ErrorRateThreshold, p.Health.FailedAfterWindows),
		prom:      p.Prom,
		sched:     NewScheduler(),
		proc:      p.Proc,
		healthCfg: p.Health,
		logger:    logger.Get().With(zap.String("component", "manager")),
	}
}

// Start takes a pipeline from configured, failed, paused, or stopped to
// starting and launches its run. Illegal transitions surface as conflict
// errors from the store.
func (m *Manager) Start(ctx context.Context, id string) error {
	p, err := m.store.GetPipeline(ctx, id)
	if err != nil {
		return err
	}
	if p.Status.IsActive() {
		// Repeated or concurrent starts converge on the active pipeline.
		return nil
	}
	if !p.Enabled {
		return errors.New(errors.ErrorTypeValidation, "pipeline is disabled")
	}
	spec, err := m.providers.Get(p.ProviderKind)
	if err != nil {
		return err
	}
	if !m.src().HasSource(p.ProviderKind) {
		return errors.Newf(errors.ErrorTypeConfig, "no source adapter for provider %q", p.ProviderKind)
	}

	if err := m.store.TransitionStatus(ctx, id, p.Status, model.StatusStarting); err != nil {
		// A lost race against another start is a success if the other
		// caller got the pipeline moving.
		if cur, gerr := m.store.GetPipeline(ctx, id); gerr == nil && cur.Status.IsActive() {
			return nil
		}
		return err
	}
	m.setStatusMetric(id, model.StatusStarting)

	creds, err := m.resolveCredentials(ctx, p)
	if err != nil {
		m.fail(id, err)
		return err
	}
	cfg := spec.ApplyDefaults(p.ProviderConfig)
	if err := spec.CheckComplete(cfg, credsAsConfig(creds)); err != nil {
		m.fail(id, err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &pipelineRun{mode: spec.Mode, ctx: runCtx, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if _, exists := m.runs[id]; exists {
		m.mu.Unlock()
		cancel()
		return errors.New(errors.ErrorTypeConflict, "pipeline run already active")
	}
	if m.runs == nil {
		m.runs = make(map[string]*pipelineRun)
	}
	m.runs[id] = run
	m.mu.Unlock()

	switch spec.Mode {
	case model.ModeBatchCron:
		go m.startBatch(runCtx, p, spec, run)
	default:
		go m.runContinuous(runCtx, p, creds, cfg, run)
	}
	return nil
}

// Stop cancels the pipeline's run, waits for the in-flight batch to
// commit, and transitions it to stopped.
func (m *Manager) Stop(ctx context.Context, id string) error {
	return m.halt(ctx, id, model.StatusStopped)
}

// Pause is a stop that parks the pipeline in paused so Resume can bring
// it straight back.
func (m *Manager) Pause(ctx context.Context, id string) error {
	p, err := m.store.GetPipeline(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != model.StatusRunning && p.Status != model.StatusDegraded {
		return errors.Newf(errors.ErrorTypeConflict, "cannot pause pipeline in status %q", p.Status)
	}
	return m.halt(ctx, id, model.StatusPaused)
}

// Resume restarts a paused pipeline through the normal starting path.
func (m *Manager) Resume(ctx context.Context, id string) error {
	p, err := m.store.GetPipeline(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != model.StatusPaused {
		return errors.Newf(errors.ErrorTypeConflict, "cannot resume pipeline in status %q", p.Status)
	}
	return m.Start(ctx, id)
}

// Restart stops an active pipeline, then starts it again.
func (m *Manager) Restart(ctx context.Context, id string) error {
	p, err := m.store.GetPipeline(ctx, id)
	if err != nil {
		return err
	}
	if p.Status.IsActive() || p.Status == model.StatusPaused {
		if err := m.halt(ctx, id, model.StatusStopped); err != nil {
			return err
		}
	}
	return m.Start(ctx, id)
}

// TriggerPass runs one pass of a running file-event or batch pipeline
// outside its normal trigger, e.g. when a file lands or an operator
// asks for a manual run.
func (m *Manager) TriggerPass(ctx context.Context, id string) error {
	p, err := m.store.GetPipeline(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != model.StatusRunning && p.Status != model.StatusDegraded {
		return errors.Newf(errors.ErrorTypeConflict, "pipeline is not running (status %q)", p.Status)
	}
	m.mu.Lock()
	run, ok := m.runs[id]
	m.mu.Unlock()
	if !ok {
		return errors.New(errors.ErrorTypeConflict, "pipeline has no active run")
	}
	go m.runPass(id, run)
	return nil
}

// halt cancels the run, waits for it, and lands the pipeline in target.
func (m *Manager) halt(ctx context.Context, id string, to model.Status) error {
	p, err := m.store.GetPipeline(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == to {
		return nil
	}
	if !model.CanTransition(p.Status, to) {
		return errors.Newf(errors.ErrorTypeConflict,
			"cannot move pipeline from %q to %q", p.Status, to)
	}

	m.mu.Lock()
	run, ok := m.runs[id]
	if ok {
		delete(m.runs, id)
	}
	m.mu.Unlock()

	if ok {
		m.sched.Unschedule(id)
		run.cancel()
		select {
		case <-run.done:
		case <-time.After(flushTimeout + 5*time.Second):
			m.logger.Warn("run did not drain in time", zap.String("pipeline_id", id))
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "stop cancelled")
		}
	}

	if err := m.store.TransitionStatus(ctx, id, p.Status, to); err != nil {
		// A concurrent stop that won the status race already did the work.
		if cur, gerr := m.store.GetPipeline(ctx, id); gerr == nil && cur.Status == to {
			return nil
		}
		return err
	}
	m.health.Reset(id)
	m.setStatusMetric(id, to)
	m.logger.Info("pipeline halted",
		zap.String("pipeline_id", id), zap.String("status", string(to)))
	return nil
}

// runContinuous drives streaming, api-poll, and file-event pipelines:
// one long-lived executor run per start.
func (m *Manager) runContinuous(runCtx context.Context, p *model.Pipeline, creds vault.Credentials, cfg map[string]interface{}, run *pipelineRun) {
	defer close(run.done)

	src, err := m.openSource(runCtx, p, creds, cfg)
	if err != nil {
		m.fail(p.ID, err)
		return
	}
	defer m.closeSource(src, p.ID)

	if err := m.store.TransitionStatus(runCtx, p.ID, model.StatusStarting, model.StatusRunning); err != nil {
		m.logger.Error("transition to running failed",
			zap.String("pipeline_id", p.ID), zap.Error(err))
		return
	}
	m.setStatusMetric(p.ID, model.StatusRunning)

	exec := m.newExecutor(p, src)
	err = exec.Run(runCtx)
	if runCtx.Err() != nil {
		// Stop or pause owns the status from here.
		return
	}
	if err != nil {
		m.fail(p.ID, err)
		return
	}
	// A continuous source completing its pass (file-event) stays running
	// and waits for the next trigger.
	if run.mode == model.ModeFileEvent {
		<-runCtx.Done()
		return
	}
	m.finishRun(p.ID)
}

// startBatch arms the cron schedule and runs the first pass immediately.
// Each pass reloads the pipeline so it picks up the latest watermark.
func (m *Manager) startBatch(runCtx context.Context, p *model.Pipeline, spec *provider.Spec, run *pipelineRun) {
	defer close(run.done)

	expr := p.ScheduleExpression
	if expr == "" {
		expr = spec.DefaultSchedule
	}
	if expr == "" {
		m.fail(p.ID, errors.New(errors.ErrorTypeConfig, "batch pipeline has no schedule"))
		return
	}
	if err := m.sched.Schedule(p.ID, expr, p.ScheduleTimezone, func() {
		m.runPass(p.ID, run)
	}); err != nil {
		m.fail(p.ID, err)
		return
	}

	if err := m.store.TransitionStatus(runCtx, p.ID, model.StatusStarting, model.StatusRunning); err != nil {
		m.sched.Unschedule(p.ID)
		m.logger.Error("transition to running failed",
			zap.String("pipeline_id", p.ID), zap.Error(err))
		return
	}
	m.setStatusMetric(p.ID, model.StatusRunning)

	m.runPass(p.ID, run)
	<-runCtx.Done()
}

// runPass performs one run-to-completion pass for a batch or file-event
// pipeline. Overlapping triggers are skipped.
func (m *Manager) runPass(id string, run *pipelineRun) {
	if !run.passing.CompareAndSwap(false, true) {
		m.logger.Warn("pass already in flight, skipping trigger", zap.String("pipeline_id", id))
		return
	}
	defer run.passing.Store(false)

	ctx := run.ctx

	// Reload for the latest watermark and config.
	p, err := m.store.GetPipeline(ctx, id)
	if err != nil {
		m.logger.Error("pass aborted", zap.String("pipeline_id", id), zap.Error(err))
		return
	}
	if p.Status != model.StatusRunning && p.Status != model.StatusDegraded {
		return
	}
	spec, err := m.providers.Get(p.ProviderKind)
	if err != nil {
		m.fail(id, err)
		return
	}
	creds, err := m.resolveCredentials(ctx, p)
	if err != nil {
		m.fail(id, err)
		return
	}
	cfg := spec.ApplyDefaults(p.ProviderConfig)

	src, err := m.openSource(ctx, p, creds, cfg)
	if err != nil {
		m.fail(id, err)
		return
	}
	defer m.closeSource(src, id)

	exec := m.newExecutor(p, src)
	if err := exec.Run(ctx); err != nil && ctx.Err() == nil {
		m.fail(id, err)
		return
	}
	m.logger.Info("pass complete", zap.String("pipeline_id", id))
}

// RunHealth evaluates pipeline health once per window until ctx ends,
// moving pipelines between running, degraded, and failed.
func (m *Manager) RunHealth(ctx context.Context) {
	window := m.healthCfg.EvaluationWindow
	if window <= 0 {
		window = time.Minute
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evaluateHealth(ctx)
		}
	}
}

func (m *Manager) evaluateHealth(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		p, err := m.store.GetPipeline(ctx, id)
		if err != nil {
			continue
		}
		errorRate, hadTraffic := m.agg.TakeHealthWindow(id)
		// The pipeline's own threshold is a percentage; the evaluator
		// works in rates.
		verdict := m.health.ObserveAt(id, errorRate, hadTraffic,
			p.Processing.ErrorThresholdPct/100)
		switch verdict {
		case metrics.AssessDegraded:
			if p.Status == model.StatusRunning {
				if err := m.store.TransitionStatus(ctx, id, model.StatusRunning, model.StatusDegraded); err == nil {
					m.setStatusMetric(id, model.StatusDegraded)
					m.logger.Warn("pipeline degraded",
						zap.String("pipeline_id", id),
						zap.Float64("error_rate", errorRate))
				}
			}
		case metrics.AssessFailed:
			if p.Status == model.StatusRunning || p.Status == model.StatusDegraded {
				m.fail(id, errors.Newf(errors.ErrorTypeData,
					"error rate %.2f%% exceeded threshold for %d consecutive windows",
					errorRate*100, m.healthCfg.FailedAfterWindows))
			}
		case metrics.AssessHealthy:
			if p.Status == model.StatusDegraded {
				if err := m.store.TransitionStatus(ctx, id, model.StatusDegraded, model.StatusRunning); err == nil {
					m.setStatusMetric(id, model.StatusRunning)
					m.logger.Info("pipeline recovered", zap.String("pipeline_id", id))
				}
			}
		}
	}
}

// Recover runs once at boot: pipelines left active by a previous process
// are parked in stopped so operators can restart them cleanly.
func (m *Manager) Recover(ctx context.Context) error {
	pipelines, err := m.store.ListPipelines(ctx)
	if err != nil {
		return err
	}
	for _, p := range pipelines {
		if !p.Status.IsActive() {
			continue
		}
		if err := m.store.TransitionStatus(ctx, p.ID, p.Status, model.StatusStopped); err != nil {
			m.logger.Error("recovery transition failed",
				zap.String("pipeline_id", p.ID), zap.Error(err))
			continue
		}
		if err := m.store.SetLastError(ctx, p.ID, "interrupted by engine restart"); err != nil {
			m.logger.Error("recovery annotation failed",
				zap.String("pipeline_id", p.ID), zap.Error(err))
		}
		m.logger.Info("recovered orphaned pipeline", zap.String("pipeline_id", p.ID))
	}
	return nil
}

// Shutdown cancels every run and waits for their final batches.
func (m *Manager) Shutdown(ctx context.Context) {
	m.sched.Stop()

	m.mu.Lock()
	runs := make(map[string]*pipelineRun, len(m.runs))
	for id, r := range m.runs {
		runs[id] = r
		delete(m.runs, id)
	}
	m.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	for id, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			m.logger.Warn("shutdown abandoned run", zap.String("pipeline_id", id))
		}
	}
}

func (m *Manager) openSource(ctx context.Context, p *model.Pipeline, creds vault.Credentials, cfg map[string]interface{}) (core.SourceTester, error) {
	src, err := m.src().CreateSource(p.ProviderKind)
	if err != nil {
		return nil, err
	}
	openCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	if err := src.Open(openCtx, core.OpenParams{
		PipelineID:  p.ID,
		Config:      cfg,
		Credentials: creds,
		Watermark:   p.Watermark,
	}); err != nil {
		_ = src.Close(context.Background())
		return nil, err
	}
	return src, nil
}

func (m *Manager) closeSource(src core.Source, pipelineID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := src.Close(ctx); err != nil {
		m.logger.Warn("source close failed",
			zap.String("pipeline_id", pipelineID), zap.Error(err))
	}
}

func (m *Manager) newExecutor(p *model.Pipeline, src core.Source) *Executor {
	policy := ResolvePolicy(p.Processing, m.proc.BatchSize, m.proc.BatchTimeout, m.proc.MaxRetries)
	return NewExecutor(ExecutorParams{
		Pipeline: p,
		Source:   src,
		Writer:   m.writer,
		Store:    m.store,
		Agg:      m.agg,
		Policy:   policy,
		Retry: RetryPolicy{
			MaxRetries: policy.MaxRetries,
			BaseDelay:  m.proc.RetryBaseDelay,
			MaxDelay:   m.proc.RetryMaxDelay,
		},
		DedupWin: m.proc.DedupWindow,
	})
}

// fail records the error and moves the pipeline to failed from whatever
// active state it is in.
func (m *Manager) fail(id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.mu.Lock()
	if run, ok := m.runs[id]; ok {
		delete(m.runs, id)
		run.cancel()
	}
	m.mu.Unlock()
	m.sched.Unschedule(id)

	if err := m.store.SetLastError(ctx, id, cause.Error()); err != nil {
		m.logger.Error("recording failure cause failed",
			zap.String("pipeline_id", id), zap.Error(err))
	}
	p, err := m.store.GetPipeline(ctx, id)
	if err != nil {
		return
	}
	if !model.CanTransition(p.Status, model.StatusFailed) {
		return
	}
	if err := m.store.TransitionStatus(ctx, id, p.Status, model.StatusFailed); err != nil {
		m.logger.Error("transition to failed lost",
			zap.String("pipeline_id", id), zap.Error(err))
		return
	}
	m.health.Reset(id)
	m.setStatusMetric(id, model.StatusFailed)
	m.logger.Error("pipeline failed",
		zap.String("pipeline_id", id), zap.Error(cause))
}

// finishRun is the path for a continuous source that reported done,
// which only happens if the provider closed the stream.
func (m *Manager) finishRun(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.mu.Lock()
	delete(m.runs, id)
	m.mu.Unlock()

	p, err := m.store.GetPipeline(ctx, id)
	if err != nil || !model.CanTransition(p.Status, model.StatusStopped) {
		return
	}
	if err := m.store.TransitionStatus(ctx, id, p.Status, model.StatusStopped); err == nil {
		m.setStatusMetric(id, model.StatusStopped)
		m.logger.Info("pipeline source completed", zap.String("pipeline_id", id))
	}
}

func (m *Manager) resolveCredentials(ctx context.Context, p *model.Pipeline) (vault.Credentials, error) {
	if !p.HasCredentials() {
		return nil, nil
	}
	creds, err := m.vault.Resolve(ctx, p.CredentialReference)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCredential, "credential resolution failed")
	}
	return creds, nil
}

func (m *Manager) src() *registry.Registry {
	if m.sources != nil {
		return m.sources
	}
	return registry.Default()
}

func (m *Manager) setStatusMetric(id string, s model.Status) {
	if m.prom != nil {
		m.prom.SetStatus(id, s)
	}
}

// credsAsConfig widens vault credentials for schema validation.
func credsAsConfig(creds vault.Credentials) map[string]interface{} {
	if creds == nil {
		return nil
	}
	out := make(map[string]interface{}, len(creds))
	for k, v := range creds {
		out[k] = v
	}
	return out
}
