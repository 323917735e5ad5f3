package eventhubs

import (
	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/registry"
)

func init() {
	registry.MustRegisterSource("eventhubs", func() (core.SourceTester, error) {
		return New(), nil
	})
}
