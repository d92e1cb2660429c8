package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupportedPayload is returned when a payload has no usable shape
var ErrUnsupportedPayload = errors.New("unsupported payload")

// As converts a bus payload into the document type T. Payloads may already be
// a T or *T, raw JSON, or a generic map as produced by a JSON decoder.
// Fields that fail to decode are left at their zero value; only a payload
// that is not an object at all is an error.
func As[T Document](payload any) (T, error) {
	var doc T
	switch p := payload.(type) {
	case T:
		return p, nil
	case *T:
		if p == nil {
			return doc, fmt.Errorf("%w: nil %T", ErrUnsupportedPayload, p)
		}
		return *p, nil
	case json.RawMessage:
		return doc, decodeLenient(p, &doc)
	case []byte:
		return doc, decodeLenient(p, &doc)
	case string:
		return doc, decodeLenient([]byte(p), &doc)
	case map[string]any:
		data, err := json.Marshal(p)
		if err != nil {
			return doc, fmt.Errorf("failed to re-encode payload: %w", err)
		}
		return doc, decodeLenient(data, &doc)
	case nil:
		return doc, fmt.Errorf("%w: nil", ErrUnsupportedPayload)
	default:
		return doc, fmt.Errorf("%w: %T", ErrUnsupportedPayload, payload)
	}
}

func decodeLenient(data []byte, dst any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("%w: null", ErrUnsupportedPayload)
	}

	// one key at a time so a malformed field only loses itself
	for key, value := range fields {
		single, err := json.Marshal(map[string]json.RawMessage{key: value})
		if err != nil {
			continue
		}
		_ = json.Unmarshal(single, dst)
	}
	return nil
}
