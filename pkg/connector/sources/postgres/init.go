package postgres

import (
	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/registry"
)

func init() {
	registry.MustRegisterSource("postgres", func() (core.SourceTester, error) {
		return New(), nil
	})
}
