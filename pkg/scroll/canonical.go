package scroll

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// MarshalCanonical serializes a JSON-equivalent value deterministically:
// object keys are emitted in sorted order at every depth, with no
// insignificant whitespace. Content hashes and encrypted blobs are always
// computed over this form so that logically equal values produce equal
// bytes.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case nil, bool, string, float64, json.Number, int, int64, uint64, float32:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	default:
		// Values that did not come through encoding/json (structs, typed
		// maps) are normalized through a marshal/unmarshal round trip.
		norm, err := Normalize(t)
		if err != nil {
			return fmt.Errorf("scroll: canonical: unsupported value %T: %w", t, err)
		}
		return writeCanonical(buf, norm)
	}
}

// Normalize converts an arbitrary marshalable value into the JSON-equivalent
// shape used throughout the system (map[string]any, []any, float64, ...).
func Normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
