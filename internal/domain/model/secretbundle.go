package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SecretBundle is the structured secret document (a Steam maFile) stored
// alongside an account. Only the shared secret is interpreted; every other
// field is kept verbatim in Raw.
type SecretBundle struct {
	SharedSecret string
	Raw          json.RawMessage
}

// ParseSecretBundle decodes a secret document. Both the maFile spelling
// "shared_secret" and "sharedSecret" are accepted.
func ParseSecretBundle(data []byte) (SecretBundle, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return SecretBundle{}, fmt.Errorf("decode secret bundle: %w", err)
	}
	if fields == nil {
		return SecretBundle{}, errors.New("decode secret bundle: not an object")
	}

	bundle := SecretBundle{Raw: json.RawMessage(append([]byte(nil), data...))}
	for _, key := range []string{"shared_secret", "sharedSecret"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var secret string
		if err := json.Unmarshal(raw, &secret); err != nil {
			return SecretBundle{}, fmt.Errorf("decode secret bundle %s: %w", key, err)
		}
		if secret != "" {
			bundle.SharedSecret = secret
			break
		}
	}

	return bundle, nil
}

// Bytes returns the document to persist.
func (b SecretBundle) Bytes() []byte {
	if len(b.Raw) > 0 {
		return b.Raw
	}
	data, _ := json.Marshal(map[string]string{"shared_secret": b.SharedSecret})
	return data
}
