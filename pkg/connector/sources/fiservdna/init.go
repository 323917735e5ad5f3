package fiservdna

import (
	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/registry"
)

func init() {
	registry.MustRegisterSource("fiserv_dna", func() (core.SourceTester, error) {
		return New(), nil
	})
}
