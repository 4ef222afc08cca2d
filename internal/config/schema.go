package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// JSONSchema reflects the Config struct into a JSON Schema document,
// keyed by the yaml tags so editors validate the file as written. The
// reflection runs once; the document is immutable for a build.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		reflector := &jsonschema.Reflector{FieldNameTag: "yaml"}
		schemaJSON, schemaErr = json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
	})
	return schemaJSON, schemaErr
}
