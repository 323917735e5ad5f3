package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinotpulse/ingest/internal/engine"
	"github.com/pinotpulse/ingest/internal/metrics"
	"github.com/pinotpulse/ingest/internal/store"
	"github.com/pinotpulse/ingest/pkg/config"
	"github.com/pinotpulse/ingest/pkg/model"
	"github.com/pinotpulse/ingest/pkg/provider"
	"github.com/pinotpulse/ingest/pkg/target"
	"github.com/pinotpulse/ingest/pkg/vault"

	_ "github.com/pinotpulse/ingest/pkg/connector/sources/postgres"
)

type testEnv struct {
	srv   *httptest.Server
	store *store.Store
	vault *vault.MemoryVault
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	vlt := vault.NewMemoryVault()
	w := target.NewMemoryWriter()
	agg := metrics.NewAggregator(st, 0, 0, nil)
	mgr := engine.NewManager(engine.ManagerParams{
		Store:  st,
		Vault:  vlt,
		Writer: w,
	})

	s := New(Params{
		Config:     config.Default().Server,
		Store:      st,
		Vault:      vlt,
		Providers:  provider.Default(),
		Manager:    mgr,
		Tester:     engine.NewTester(nil, nil, vlt),
		DLQ:        engine.NewDLQService(st, w),
		Aggregator: agg,
	})
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, store: st, vault: vlt}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func pgRequest(slug string, withCreds bool) map[string]interface{} {
	req := map[string]interface{}{
		"name":         "Core Deposits",
		"slug":         slug,
		"provider":     "postgres",
		"target_table": "deposits",
		"provider_config": map[string]interface{}{
			"host":         "db.internal",
			"database":     "core",
			"source_table": "deposits",
		},
	}
	if withCreds {
		req["credentials"] = map[string]string{
			"username": "ingest",
			"password": "s3cret",
		}
	}
	return req
}

func TestCreatePipelineStoresCredentialsInVault(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, http.MethodPost, "/api/v1/pipelines", pgRequest("core-deposits", true))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "configured", body["status"])
	assert.NotEmpty(t, body["credential_reference"])
	assert.Equal(t, 1, e.vault.Len())

	// The row never carries the secret.
	p, err := e.store.GetPipelineBySlug(context.Background(), "core-deposits")
	require.NoError(t, err)
	assert.NotContains(t, p.ProviderConfig, "password")
	assert.NotContains(t, p.ProviderConfig, "username")

	// Defaults were applied to the stored config.
	assert.Equal(t, float64(5432), p.ProviderConfig["port"])
}

func TestCreateWithoutCredentialsIsDraft(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, http.MethodPost, "/api/v1/pipelines", pgRequest("draft-deposits", false))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "draft", body["status"])
	assert.Equal(t, 0, e.vault.Len())
}

func TestCreateDuplicateSlugRevokesCredentials(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/api/v1/pipelines", pgRequest("dup-slug", true))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/api/v1/pipelines", pgRequest("dup-slug", true))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", body["type"])
	// The second store was rolled back.
	assert.Equal(t, 1, e.vault.Len())
}

func TestCreateRejectsUnknownConfigField(t *testing.T) {
	e := newTestEnv(t)

	req := pgRequest("bad-config", false)
	req["provider_config"].(map[string]interface{})["password"] = "in-the-open"
	resp, body := e.do(t, http.MethodPost, "/api/v1/pipelines", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["type"])
}

func TestCreateRejectsBadSlugAndTarget(t *testing.T) {
	e := newTestEnv(t)

	req := pgRequest("Bad Slug!", false)
	resp, _ := e.do(t, http.MethodPost, "/api/v1/pipelines", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = pgRequest("ok-slug", false)
	req["target_table"] = "nonexistent"
	resp, _ = e.do(t, http.MethodPost, "/api/v1/pipelines", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetPipelineByIDOrSlug(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodPost, "/api/v1/pipelines", pgRequest("lookup-me", true))
	id := body["id"].(string)

	resp, byID := e.do(t, http.MethodGet, "/api/v1/pipelines/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, bySlug := e.do(t, http.MethodGet, "/api/v1/pipelines/lookup-me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, byID["id"], bySlug["id"])

	resp, _ = e.do(t, http.MethodGet, "/api/v1/pipelines/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateRejectsSlugAndProviderChange(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodPost, "/api/v1/pipelines", pgRequest("immutable", true))
	id := body["id"].(string)

	req := pgRequest("renamed-slug", false)
	resp, _ := e.do(t, http.MethodPut, "/api/v1/pipelines/"+id, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = pgRequest("immutable", false)
	req["provider"] = "kafka"
	resp, _ = e.do(t, http.MethodPut, "/api/v1/pipelines/"+id, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdatePreservesStatusAndCredentials(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodPost, "/api/v1/pipelines", pgRequest("update-me", true))
	id := body["id"].(string)
	ref := body["credential_reference"].(string)

	req := pgRequest("update-me", false)
	req["name"] = "Core Deposits v2"
	resp, updated := e.do(t, http.MethodPut, "/api/v1/pipelines/"+id, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Core Deposits v2", updated["name"])
	assert.Equal(t, "configured", updated["status"])
	assert.Equal(t, ref, updated["credential_reference"])
	assert.Equal(t, 1, e.vault.Len())
}

func TestCreateCarriesProcessingPolicy(t *testing.T) {
	e := newTestEnv(t)

	req := pgRequest("tuned-deposits", true)
	req["processing"] = map[string]interface{}{
		"batch_size":                250,
		"error_threshold_pct":       50,
		"dedup_enabled":             true,
		"dlq_enabled":               false,
		"schema_validation_enabled": false,
	}
	resp, body := e.do(t, http.MethodPost, "/api/v1/pipelines", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	proc := body["processing"].(map[string]interface{})
	assert.Equal(t, float64(250), proc["batch_size"])
	assert.Equal(t, float64(50), proc["error_threshold_pct"])
	assert.Equal(t, true, proc["dedup_enabled"])
	assert.Equal(t, false, proc["dlq_enabled"])
	assert.Equal(t, false, proc["schema_validation_enabled"])

	// The policy survives the round trip through the store.
	p, err := e.store.GetPipelineBySlug(context.Background(), "tuned-deposits")
	require.NoError(t, err)
	assert.Equal(t, 250, p.Processing.BatchSize)
	assert.Equal(t, 50.0, p.Processing.ErrorThresholdPct)
	assert.False(t, p.Processing.DLQOn())
	assert.False(t, p.Processing.ValidatesSchema())
}

func TestCreateRejectsBadErrorThreshold(t *testing.T) {
	e := newTestEnv(t)

	req := pgRequest("hot-deposits", false)
	req["processing"] = map[string]interface{}{"error_threshold_pct": 150}
	resp, body := e.do(t, http.MethodPost, "/api/v1/pipelines", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["type"])
}

func TestUpdateRevokesSupersededCredentials(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodPost, "/api/v1/pipelines", pgRequest("rotate-me", true))
	id := body["id"].(string)
	oldRef := body["credential_reference"].(string)

	req := pgRequest("rotate-me", true)
	req["credentials"] = map[string]string{
		"username": "ingest",
		"password": "rotated",
	}
	resp, updated := e.do(t, http.MethodPut, "/api/v1/pipelines/"+id, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, oldRef, updated["credential_reference"])

	// The superseded secret is gone, not orphaned.
	assert.Equal(t, 1, e.vault.Len())
	_, err := e.vault.Resolve(context.Background(), oldRef)
	require.Error(t, err)
}

func TestActionStartOnDraftConflicts(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodPost, "/api/v1/pipelines", pgRequest("draft-start", false))
	id := body["id"].(string)

	resp, errBody := e.do(t, http.MethodPost, "/api/v1/pipelines/"+id+"/action",
		map[string]string{"action": "start"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", errBody["type"])
}

func TestActionUnknownRejected(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodPost, "/api/v1/pipelines", pgRequest("action-pipe", true))
	id := body["id"].(string)

	resp, _ := e.do(t, http.MethodPost, "/api/v1/pipelines/"+id+"/action",
		map[string]string{"action": "defenestrate"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteRevokesCredentials(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodPost, "/api/v1/pipelines", pgRequest("delete-me", true))
	id := body["id"].(string)
	require.Equal(t, 1, e.vault.Len())

	resp, _ := e.do(t, http.MethodDelete, "/api/v1/pipelines/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, e.vault.Len())

	resp, _ = e.do(t, http.MethodGet, "/api/v1/pipelines/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProviderCatalogEndpoints(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, http.MethodGet, "/api/v1/providers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	providers := body["providers"].([]interface{})
	assert.Len(t, providers, 14)

	resp, kafka := e.do(t, http.MethodGet, "/api/v1/providers/kafka", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Apache Kafka", kafka["display_name"])
	assert.Equal(t, "streaming", kafka["mode"])

	resp, _ = e.do(t, http.MethodGet, "/api/v1/providers/oracle", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDLQEndpoints(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, body := e.do(t, http.MethodPost, "/api/v1/pipelines", pgRequest("dlq-pipe", true))
	id := body["id"].(string)

	good := &model.DLQEntry{
		PipelineID:   id,
		MessageValue: []byte(`{"deposit_id":"d-1","account_id":"a-1","amount":5,"deposit_date":"2026-08-27"}`),
		ErrorMessage: "write failed",
		Stage:        model.StageWrite,
		MaxRetries:   3,
	}
	require.NoError(t, e.store.InsertDLQEntry(ctx, good))
	bad := &model.DLQEntry{
		PipelineID:   id,
		MessageValue: []byte(`{"deposit_id":"d-2"}`),
		ErrorMessage: "missing required fields",
		Stage:        model.StageValidate,
		MaxRetries:   3,
	}
	require.NoError(t, e.store.InsertDLQEntry(ctx, bad))

	resp, list := e.do(t, http.MethodGet, "/api/v1/pipelines/"+id+"/dlq", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), list["total"])

	resp, list = e.do(t, http.MethodGet, "/api/v1/pipelines/"+id+"/dlq?stage=write", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), list["total"])

	resp, retried := e.do(t, http.MethodPost, "/api/v1/pipelines/"+id+"/dlq/"+good.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "resolved", retried["resolution"])

	resp, discarded := e.do(t, http.MethodPost, "/api/v1/pipelines/"+id+"/dlq/"+bad.ID+"/discard", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "discarded", discarded["resolution"])

	resp, bulk := e.do(t, http.MethodPost, "/api/v1/pipelines/"+id+"/dlq/retry", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), bulk["resolved"])
	assert.Equal(t, float64(0), bulk["failed"])
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
