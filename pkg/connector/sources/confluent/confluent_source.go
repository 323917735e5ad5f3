// Package confluent consumes Confluent Cloud topics. The cluster speaks
// the Kafka protocol with SASL/PLAIN over TLS and API-key credentials,
// so the adapter delegates to the Kafka source with a translated config.
package confluent

import (
	"context"

	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/sources/kafka"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/vault"
)

// Source is a Kafka source preset for Confluent Cloud.
type Source struct {
	*kafka.Source
}

// New creates an unopened Confluent Cloud source.
func New() *Source {
	return &Source{Source: kafka.New()}
}

// Open translates the Confluent config onto the Kafka adapter.
func (s *Source) Open(ctx context.Context, params core.OpenParams) error {
	translated, err := translate(params)
	if err != nil {
		return err
	}
	return s.Source.Open(ctx, translated)
}

// Test probes the cluster with the translated config.
func (s *Source) Test(ctx context.Context, params core.OpenParams) error {
	translated, err := translate(params)
	if err != nil {
		return err
	}
	return s.Source.Test(ctx, translated)
}

func translate(params core.OpenParams) (core.OpenParams, error) {
	apiKey := params.Cred("api_key")
	apiSecret := params.Cred("api_secret")
	if apiKey == "" || apiSecret == "" {
		return core.OpenParams{}, errors.New(errors.ErrorTypeAuthentication,
			"confluent requires api_key and api_secret credentials")
	}

	cfg := make(map[string]interface{}, len(params.Config)+2)
	for k, v := range params.Config {
		switch k {
		case "cluster_id", "environment_id":
			// Informational only; the broker address carries the routing.
		default:
			cfg[k] = v
		}
	}
	cfg["security_protocol"] = "SASL_SSL"
	cfg["sasl_mechanism"] = "PLAIN"

	return core.OpenParams{
		PipelineID: params.PipelineID,
		Config:     cfg,
		Credentials: vault.Credentials{
			"sasl_username": apiKey,
			"sasl_password": apiSecret,
		},
		Watermark: params.Watermark,
	}, nil
}
