// Package eventhubs consumes Azure Event Hubs through the namespace's
// Kafka-protocol endpoint, so the Kafka adapter does the heavy lifting.
// Connection-string auth maps to SASL/PLAIN with the "$ConnectionString"
// user; client-credentials auth maps to SASL/OAUTHBEARER with tokens
// from Entra ID.
package eventhubs

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/sources/kafka"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/vault"
)

// Source is a Kafka source preset for an Event Hubs namespace.
type Source struct {
	*kafka.Source
}

// New creates an unopened Event Hubs source.
func New() *Source {
	return &Source{Source: kafka.New()}
}

// Open translates the Event Hubs config onto the Kafka adapter.
func (s *Source) Open(ctx context.Context, params core.OpenParams) error {
	translated, err := s.translate(params)
	if err != nil {
		return err
	}
	return s.Source.Open(ctx, translated)
}

// Test probes the namespace with the translated config.
func (s *Source) Test(ctx context.Context, params core.OpenParams) error {
	translated, err := s.translate(params)
	if err != nil {
		return err
	}
	return s.Source.Test(ctx, translated)
}

func (s *Source) translate(params core.OpenParams) (core.OpenParams, error) {
	namespace := params.String("namespace")
	hub := params.String("eventhub_name")
	if namespace == "" || hub == "" {
		return core.OpenParams{}, errors.New(errors.ErrorTypeConfig,
			"namespace and eventhub_name are required")
	}
	host := fmt.Sprintf("%s.servicebus.windows.net", namespace)

	cfg := map[string]interface{}{
		"bootstrap_servers": host + ":9093",
		"topics":            []string{hub},
		"consumer_group":    params.StringDefault("consumer_group", "$Default"),
		"security_protocol": "SASL_SSL",
		"max_poll_records":  params.Int("max_batch_size", 300),
		"fetch_max_wait_ms": params.Int("max_wait_time", 60) * 1000,
		"value_format":      "json",
	}
	if params.StringDefault("starting_position", "latest") == "earliest" {
		cfg["auto_offset_reset"] = "earliest"
	}

	var creds vault.Credentials
	switch params.StringDefault("auth_method", "connection_string") {
	case "client_credentials":
		tenant := params.String("tenant_id")
		clientID := params.String("client_id")
		secret := params.Cred("client_secret")
		if tenant == "" || clientID == "" || secret == "" {
			return core.OpenParams{}, errors.New(errors.ErrorTypeAuthentication,
				"client_credentials requires tenant_id, client_id, and client_secret")
		}
		cfg["sasl_mechanism"] = "OAUTHBEARER"
		s.SetTokenProvider(&entraTokenProvider{cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: secret,
			TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant),
			Scopes:       []string{fmt.Sprintf("https://%s/.default", host)},
		}})
	case "managed_identity":
		return core.OpenParams{}, errors.New(errors.ErrorTypeConfig,
			"managed_identity auth is not supported")
	default:
		cs := params.Cred("connection_string")
		if cs == "" {
			return core.OpenParams{}, errors.New(errors.ErrorTypeAuthentication,
				"connection_string credential is required")
		}
		cfg["sasl_mechanism"] = "PLAIN"
		creds = vault.Credentials{
			"sasl_username": "$ConnectionString",
			"sasl_password": cs,
		}
	}

	return core.OpenParams{
		PipelineID:  params.PipelineID,
		Config:      cfg,
		Credentials: creds,
		Watermark:   params.Watermark,
	}, nil
}

// entraTokenProvider fetches OAuth tokens for the Kafka endpoint.
type entraTokenProvider struct {
	cfg clientcredentials.Config
}

func (p *entraTokenProvider) Token() (*sarama.AccessToken, error) {
	tok, err := p.cfg.Token(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "token acquisition failed")
	}
	return &sarama.AccessToken{Token: tok.AccessToken}, nil
}
