package journal

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/dispatchr/internal/ir"
)

// marshalContext converts a store context to canonical JSON TEXT.
func marshalContext(sc ir.StoreContext) (string, error) {
	if sc == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(map[string]any(sc))
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}
	return string(data), nil
}

// unmarshalContext parses JSON TEXT to a store context, keeping numbers
// as json.Number.
func unmarshalContext(data string) (ir.StoreContext, error) {
	if data == "" || data == "{}" {
		return ir.StoreContext{}, nil
	}
	v, err := ir.DecodeJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unmarshal context: expected object, got %T", v)
	}
	return ir.StoreContext(m), nil
}

func rawPayload(data string) json.RawMessage {
	if data == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(data)
}
