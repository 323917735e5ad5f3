package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/registry"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
	"github.com/pinotpulse/ingest/pkg/provider"
	"github.com/pinotpulse/ingest/pkg/vault"
)

const testTimeout = 30 * time.Second

// Tester checks that a provider configuration can reach and authenticate
// against its upstream without starting ingestion.
type Tester struct {
	providers *provider.Registry
	sources   *registry.Registry
	vault     vault.Vault
	logger    *zap.Logger
}

// NewTester creates a tester. Nil registries fall back to the defaults.
func NewTester(providers *provider.Registry, sources *registry.Registry, vlt vault.Vault) *Tester {
	if providers == nil {
		providers = provider.Default()
	}
	if sources == nil {
		sources = registry.Default()
	}
	return &Tester{
		providers: providers,
		sources:   sources,
		vault:     vlt,
		logger:    logger.Get().With(zap.String("component", "tester")),
	}
}

// TestResult reports a connection test outcome with the failure
// category the console needs to point the operator at the right fix.
type TestResult struct {
	Success    bool   `json:"success"`
	Category   string `json:"category,omitempty"`
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// TestConfig validates the config against the provider schema and then
// probes the provider with the given credentials.
func (t *Tester) TestConfig(ctx context.Context, kind string, cfg map[string]interface{}, creds vault.Credentials) TestResult {
	start := time.Now()

	spec, err := t.providers.Get(kind)
	if err != nil {
		return t.failure(start, err)
	}
	cfg = spec.ApplyDefaults(cfg)
	if err := spec.CheckComplete(cfg, credsAsConfig(creds)); err != nil {
		return t.failure(start, err)
	}

	src, err := t.sources.CreateSource(kind)
	if err != nil {
		return t.failure(start, err)
	}

	testCtx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()
	err = src.Test(testCtx, core.OpenParams{Config: cfg, Credentials: creds})
	if err != nil && testCtx.Err() != nil && ctx.Err() == nil {
		err = errors.Wrap(err, errors.ErrorTypeTimeout, "connection test timed out")
	}
	if err != nil {
		t.logger.Info("connection test failed",
			zap.String("provider", kind),
			zap.String("category", string(errors.TypeOf(err))),
			zap.Error(err))
		return t.failure(start, err)
	}
	return TestResult{Success: true, DurationMS: time.Since(start).Milliseconds()}
}

// TestPipeline tests a saved pipeline, resolving its stored credentials.
func (t *Tester) TestPipeline(ctx context.Context, p *model.Pipeline) TestResult {
	start := time.Now()
	var creds vault.Credentials
	if p.HasCredentials() {
		c, err := t.vault.Resolve(ctx, p.CredentialReference)
		if err != nil {
			return t.failure(start, errors.Wrap(err, errors.ErrorTypeCredential, "credential resolution failed"))
		}
		creds = c
	}
	return t.TestConfig(ctx, p.ProviderKind, p.ProviderConfig, creds)
}

func (t *Tester) failure(start time.Time, err error) TestResult {
	return TestResult{
		Success:    false,
		Category:   string(errors.TypeOf(err)),
		Message:    err.Error(),
		DurationMS: time.Since(start).Milliseconds(),
	}
}
