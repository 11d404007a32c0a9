package capture

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Decode sniffs the payload format and decodes it. A JSON object is decoded
// directly; anything else is tried as base64-wrapped MessagePack first and as
// raw MessagePack second. The result is not validated.
func Decode(data []byte) (*Capture, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty capture")
	}
	if trimmed[0] == '{' {
		return DecodeJSON(trimmed)
	}
	if isBase64(trimmed) {
		return DecodeBase64Msgpack(trimmed)
	}
	return DecodeMsgpack(data)
}

// DecodeJSON decodes the JSON export of a capture.
func DecodeJSON(data []byte) (*Capture, error) {
	var c Capture
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode json capture: %w", err)
	}
	return &c, nil
}

// DecodeBase64Msgpack decodes a base64 text wrapping a MessagePack capture.
// Embedded whitespace and missing padding are accepted.
func DecodeBase64Msgpack(text []byte) (*Capture, error) {
	compact := bytes.Join(bytes.Fields(text), nil)
	raw, err := base64.StdEncoding.DecodeString(string(compact))
	if err != nil {
		var rawErr error
		raw, rawErr = base64.RawStdEncoding.DecodeString(string(bytes.TrimRight(compact, "=")))
		if rawErr != nil {
			return nil, fmt.Errorf("decode base64 capture: %w", err)
		}
	}
	return DecodeMsgpack(raw)
}

// DecodeMsgpack decodes a raw MessagePack capture. Maps with non-string keys
// (node catalogs keyed by agent id, for instance) are accepted; their keys
// are formatted as strings before the capture shape is applied.
func DecodeMsgpack(raw []byte) (*Capture, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.SetMapDecoder(func(d *msgpack.Decoder) (interface{}, error) {
		return d.DecodeUntypedMap()
	})
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, fmt.Errorf("decode msgpack capture: %w", err)
	}
	if _, ok := v.(map[interface{}]interface{}); !ok {
		return nil, fmt.Errorf("decode msgpack capture: top level is %T, want map", v)
	}

	// Re-encode the plain tree as JSON so both wire formats share one
	// mapping onto the capture types.
	doc, err := json.Marshal(normalize(v))
	if err != nil {
		return nil, fmt.Errorf("decode msgpack capture: %w", err)
	}
	return DecodeJSON(doc)
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[keyString(k)] = normalize(val)
		}
		return out
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case []byte:
		return string(t)
	default:
		return v
	}
}

func keyString(k interface{}) string {
	switch t := k.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func isBase64(b []byte) bool {
	for _, c := range b {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=':
		case c == ' ', c == '\n', c == '\r', c == '\t':
		default:
			return false
		}
	}
	return true
}
