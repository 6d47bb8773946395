// Package crypto provides key management and JSON/JWKS utilities for credential issuance.
package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON re-encodes a JSON document with sorted object keys and no
// insignificant whitespace. Numbers are preserved as written.
func CanonicalJSON(data []byte) ([]byte, error) {
	// 1. Decode into generic values, keeping number literals intact
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after json value")
	}

	// 2. Marshal back to JSON
	// encoding/json sorts map keys by default, providing canonicalization
	return marshalNoEscape(v)
}

// CanonicalizeValue marshals v and returns its canonical JSON form.
func CanonicalizeValue(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return CanonicalJSON(data)
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to create canonical json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
