package restapi

import (
	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/registry"
)

func init() {
	registry.MustRegisterSource("rest_api", func() (core.SourceTester, error) {
		return New(), nil
	})
}
