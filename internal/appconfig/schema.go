// internal/appconfig/schema.go
package appconfig

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema describes the accepted shape of a config file.
const configSchema = `{
  "type": "object",
  "properties": {
    "backend": { "type": "string", "enum": ["", "local", "remote", "llama.cpp", "llamacpp"] },
    "debug": { "type": "boolean" },
    "timeout": { "type": "integer", "minimum": 0 },
    "logFile": { "type": "string" },
    "local": {
      "type": "object",
      "properties": {
        "modelPath": { "type": "string" },
        "serverBinary": { "type": "string" },
        "serverURL": { "type": "string" },
        "contextSize": { "type": "integer", "minimum": 0 },
        "gpuLayers": { "type": "integer" },
        "threads": { "type": "integer", "minimum": 0 },
        "port": { "type": "integer", "minimum": 0, "maximum": 65535 }
      }
    },
    "remote": {
      "type": "object",
      "properties": {
        "provider": { "type": "string", "enum": ["", "openai", "ollama"] },
        "apiKey": { "type": "string" },
        "baseURL": { "type": "string" },
        "model": { "type": "string" },
        "systemPrompt": { "type": "string" },
        "commandBuffer": { "type": "integer", "minimum": 0 },
        "responseBuffer": { "type": "integer", "minimum": 0 }
      }
    },
    "generation": {
      "type": "object",
      "properties": {
        "maxTokens": { "type": "integer", "minimum": 0 },
        "stop": { "type": "array", "items": { "type": "string", "minLength": 1 } },
        "seed": { "type": "integer" },
        "profile": { "type": "string" },
        "parameters": { "type": "object" }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(configSchema)

// Validate checks raw config JSON against the config schema.
func Validate(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("config is not valid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("config failed validation: %s", strings.Join(problems, "; "))
}
