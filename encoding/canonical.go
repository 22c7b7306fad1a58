package encoding

// canonical.go produces the canonical serialization that block hashes are
// computed over. The encoding is JSON with object keys emitted in sorted
// order and no insignificant whitespace. Two calls with equal logical inputs
// must produce byte-identical output; the block hash chain depends on it.

import (
	"bytes"
	"encoding/json"
	"sort"

	"gitlab.com/NebulousLabs/errors"
)

// Canonical returns the canonical, key-sorted JSON encoding of obj.
//
// The object is first marshalled with encoding/json and then re-emitted with
// every object's keys in sorted order. Numbers pass through as their
// original literals (json.Number), so no float formatting is applied that
// could differ between encode paths.
func Canonical(obj interface{}) ([]byte, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, errors.AddContext(err, "unable to marshal object for canonicalization")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, errors.AddContext(err, "unable to decode intermediate json")
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeCanonical recursively emits v with sorted object keys.
func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(string(val))
	case string:
		strJSON, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(strJSON)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	default:
		return errors.New("unsupported type in canonical encoding")
	}
	return nil
}
