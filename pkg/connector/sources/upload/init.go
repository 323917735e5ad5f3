package upload

import (
	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/connector/registry"
)

func init() {
	registry.MustRegisterSource("file_upload", func() (core.SourceTester, error) {
		return New(), nil
	})
}
