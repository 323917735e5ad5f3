package s3

import (
	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/registry"
)

func init() {
	registry.MustRegisterSource("s3", func() (core.SourceTester, error) {
		return New(), nil
	})
}
