package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// CanonicalMarshal marshals v into RFC 8785 (JCS) canonical JSON:
// sorted keys, no HTML escaping, compact, no trailing newline.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}

	out, err := jcs.Transform(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("jcs transform failed: %w", err)
	}
	return out, nil
}

// NormalizeText returns the NFC form of s. Rationale text produced by
// different engines may differ only in Unicode composition; digests
// must not.
func NormalizeText(s string) string {
	return norm.NFC.String(s)
}
