package application

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// secretBundleSchema requires a non-empty shared secret under either the
// maFile spelling or the camel-case spelling. Other fields pass through.
const secretBundleSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "anyOf": [
    {
      "required": ["shared_secret"],
      "properties": {"shared_secret": {"type": "string", "minLength": 1}}
    },
    {
      "required": ["sharedSecret"],
      "properties": {"sharedSecret": {"type": "string", "minLength": 1}}
    }
  ]
}`

var compiledBundleSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(secretBundleSchema))
})

// ValidateSecretBundle checks that doc is a secret bundle carrying a shared
// secret. Failures wrap ErrValidation.
func ValidateSecretBundle(doc []byte) error {
	schema, err := compiledBundleSchema()
	if err != nil {
		return fmt.Errorf("compile secret bundle schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: secret bundle is not valid JSON: %v", ErrValidation, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("%w: secret bundle: %s", ErrValidation, strings.Join(msgs, "; "))
	}
	return nil
}
