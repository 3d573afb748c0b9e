package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// marshalCanonical produces the canonical byte encoding used for hashing
// and signing: compact JSON with struct-declared field order and no HTML
// escaping. Inputs must be structs/slices, never maps, so the encoding is
// deterministic.
func marshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	// Encoder appends a trailing newline; the signed payload excludes it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
