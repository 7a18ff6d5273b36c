// Package canonical produces the exact byte string that envelope signatures
// are computed over. Both sides of the wire must agree byte-for-byte, so the
// encoding is fixed: compact JSON, no HTML escaping of <, >, &, struct fields
// emitted in declaration order. Types that appear inside a signee declare
// their fields in lexicographic key order, except a payload's "typ"
// discriminant which always comes first.
package canonical

import (
	"bytes"
	"encoding/json"
)

// Encode returns the canonical bytes for v. Deterministic: repeated calls on
// the same value yield identical output.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder.Encode appends a newline that is not part of the signed bytes.
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
