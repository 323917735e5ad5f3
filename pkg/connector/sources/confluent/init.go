package confluent

import (
	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/registry"
)

func init() {
	registry.MustRegisterSource("confluent", func() (core.SourceTester, error) {
		return New(), nil
	})
}
