package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// DeriveIdempotencyKey hashes a schema version tag and a set of fields into
// the key attached to a create call. Equal inputs give equal keys across
// processes and releases: the fields are serialized as canonical JSON
// (sorted object keys, no HTML escaping, NFC-normalized strings) before
// hashing.
func DeriveIdempotencyKey(version string, fields any) (string, error) {
	canonical, err := CanonicalJSON(fields)
	if err != nil {
		return "", fmt.Errorf("failed to serialize idempotency fields: %w", err)
	}

	sum := sha256.Sum256([]byte(norm.NFC.String(version) + ";" + string(canonical)))
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON encodes v with sorted object keys, numbers preserved
// verbatim and strings in Unicode normalization form C.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Map keys come out sorted.
	if err := enc.Encode(normalize(generic)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = normalize(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	default:
		return v
	}
}
