// Package symitar pulls entity extracts through Jack Henry's SymXchange
// gateway. Auth is a short-lived session token refreshed mid-pass.
package symitar

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/clients"
	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/sources/corebank"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
)

type sessionRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceID   string `json:"deviceId"`
	SymRouting string `json:"symRouting"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

type pageEnvelope struct {
	Records []map[string]interface{} `json:"records"`
	HasMore bool                     `json:"hasMore"`
}

// Source pages SymXchange entities filtered by lastFMDate.
type Source struct {
	client *clients.HTTPClient
	logger *zap.Logger
	pager  *corebank.Pager

	baseURL      string
	routing      string
	deviceID     string
	username     string
	password     string
	refreshEvery time.Duration

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

func New() *Source {
	return &Source{logger: logger.Get().With(zap.String("connector", "symitar"))}
}

func (s *Source) Open(ctx context.Context, params core.OpenParams) error {
	if err := s.configure(params); err != nil {
		return err
	}
	if _, err := s.sessionToken(ctx); err != nil {
		return err
	}

	since := ""
	if params.Bool("incremental_enabled", true) {
		since = params.Watermark
	}
	s.pager = &corebank.Pager{
		Entities:       params.StringList("entities"),
		PageSize:       params.Int("page_size", 500),
		Since:          since,
		WatermarkField: params.StringDefault("watermark_column", "lastFMDate"),
		Deadline:       time.Now().Add(time.Duration(params.Int("max_runtime_minutes", 120)) * time.Minute),
		Fetch:          s.fetchPage,
	}
	return s.pager.Validate()
}

func (s *Source) configure(params core.OpenParams) error {
	s.baseURL = params.String("base_url")
	if s.baseURL == "" {
		return errors.New(errors.ErrorTypeConfig, "base_url is required")
	}
	s.routing = params.String("sym_routing")
	if s.routing == "" {
		return errors.New(errors.ErrorTypeConfig, "sym_routing is required")
	}
	s.deviceID = params.StringDefault("device_id", "PINOT-PULSE")
	s.username = params.Cred("username")
	s.password = params.Cred("password")
	if s.username == "" || s.password == "" {
		return errors.New(errors.ErrorTypeAuthentication, "username and password credentials are required")
	}
	s.refreshEvery = time.Duration(params.Int("session_refresh_minutes", 18)) * time.Minute

	cfg := clients.DefaultHTTPConfig()
	cfg.RateLimitRPS = float64(params.Int("rate_limit_rps", 10))
	s.client = clients.NewHTTPClient(cfg, s.logger)
	return nil
}

// sessionToken returns a token, logging in again once the current one
// approaches the gateway's idle timeout.
func (s *Source) sessionToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Since(s.issuedAt) < s.refreshEvery {
		return s.token, nil
	}

	var resp sessionResponse
	req := sessionRequest{
		Username:   s.username,
		Password:   s.password,
		DeviceID:   s.deviceID,
		SymRouting: s.routing,
	}
	if err := s.client.PostJSON(ctx, s.baseURL+"/v1/sessions", nil, req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New(errors.ErrorTypeAuthentication, "session response carried no token")
	}
	s.token = resp.Token
	s.issuedAt = time.Now()
	s.logger.Debug("session established")
	return s.token, nil
}

func (s *Source) Fetch(ctx context.Context, max int) ([]model.Record, bool, error) {
	return s.pager.Next(ctx, max)
}

func (s *Source) fetchPage(ctx context.Context, entity string, page int, since string) ([]map[string]interface{}, bool, error) {
	token, err := s.sessionToken(ctx)
	if err != nil {
		return nil, false, err
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(s.pager.PageSize))
	if since != "" {
		q.Set("lastFMDate", since)
	}
	reqURL := fmt.Sprintf("%s/v1/%s?%s", s.baseURL, url.PathEscape(entity), q.Encode())
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"X-Device-Id":   s.deviceID,
		"X-Sym-Routing": s.routing,
	}

	var envelope pageEnvelope
	if err := s.client.GetJSON(ctx, reqURL, headers, &envelope); err != nil {
		// A dropped session is re-established once before giving up.
		if errors.IsType(err, errors.ErrorTypeAuthentication) {
			s.mu.Lock()
			s.token = ""
			s.mu.Unlock()
			token, terr := s.sessionToken(ctx)
			if terr != nil {
				return nil, false, terr
			}
			headers["Authorization"] = "Bearer " + token
			if err := s.client.GetJSON(ctx, reqURL, headers, &envelope); err != nil {
				return nil, false, err
			}
			return envelope.Records, envelope.HasMore, nil
		}
		return nil, false, err
	}
	return envelope.Records, envelope.HasMore, nil
}

func (s *Source) Checkpoint(_ context.Context) (string, error) {
	return s.pager.Watermark(), nil
}

func (s *Source) Close(_ context.Context) error { return nil }

// Test logs in and fetches a single-row page of the first entity.
func (s *Source) Test(ctx context.Context, params core.OpenParams) error {
	probe := New()
	if err := probe.configure(params); err != nil {
		return err
	}
	entities := params.StringList("entities")
	if len(entities) == 0 {
		return errors.New(errors.ErrorTypeConfig, "entities is required")
	}
	probe.pager = &corebank.Pager{PageSize: 1}
	_, _, err := probe.fetchPage(ctx, entities[0], 1, "")
	return err
}
