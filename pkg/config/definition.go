package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pinotpulse/ingest/pkg/errors"
)

// LoadDefinition loads a pipeline definition from a YAML file into out.
// ${VAR_NAME} references are substituted from the environment before
// parsing, so definition files can avoid inlining endpoints and account
// identifiers.
func LoadDefinition(filePath string, out interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is caller-controlled
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to read definition file")
	}

	content := substituteEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(content), out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse definition YAML")
	}

	return nil
}

// SaveDefinition writes a pipeline definition to a YAML file.
func SaveDefinition(filePath string, def interface{}) error {
	data, err := yaml.Marshal(def)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal definition YAML")
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write definition file")
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
