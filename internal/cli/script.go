package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dispatchr/internal/ir"
)

// ScriptAction is one entry of an actions file.
type ScriptAction struct {
	Action  string `json:"action" yaml:"action"`
	Payload any    `json:"payload,omitempty" yaml:"payload"`
}

// ReadActionsFile reads an actions file. ".yaml" and ".yml" files hold a
// YAML list; anything else is JSON Lines, one action object per line.
// A path of "-" reads JSON Lines from stdin.
func ReadActionsFile(path string, stdin io.Reader) ([]ScriptAction, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return ParseJSONLActions(data)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return ParseYAMLActions(data)
	default:
		return ParseJSONLActions(data)
	}
}

// ParseJSONLActions parses JSON Lines. Blank lines are skipped; numbers
// are kept exact as json.Number.
func ParseJSONLActions(data []byte) ([]ScriptAction, error) {
	var actions []ScriptAction
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		var a ScriptAction
		if err := dec.Decode(&a); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if a.Action == "" {
			return nil, fmt.Errorf("line %d: missing action", line)
		}
		actions = append(actions, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return actions, nil
}

// ParseYAMLActions parses a YAML list of actions. Payloads are converted
// to the same JSON value shapes JSON Lines produce.
func ParseYAMLActions(data []byte) ([]ScriptAction, error) {
	var actions []ScriptAction
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&actions); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse YAML actions: %w", err)
	}

	for i := range actions {
		if actions[i].Action == "" {
			return nil, fmt.Errorf("actions[%d]: missing action", i)
		}
		if actions[i].Payload == nil {
			continue
		}
		raw, err := json.Marshal(actions[i].Payload)
		if err != nil {
			return nil, fmt.Errorf("actions[%d]: payload: %w", i, err)
		}
		if actions[i].Payload, err = ir.DecodeJSON(raw); err != nil {
			return nil, fmt.Errorf("actions[%d]: payload: %w", i, err)
		}
	}
	return actions, nil
}

// parseContext decodes a --context flag value. Empty means no context.
func parseContext(s string) (ir.StoreContext, error) {
	if s == "" {
		return ir.StoreContext{}, nil
	}
	v, err := ir.DecodeJSON([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("context: must be a JSON object")
	}
	return ir.StoreContext(m), nil
}

// readSnapshot reads a snapshot file written by run --out.
func readSnapshot(path string) (*ir.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap ir.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Context != nil {
		v, err := ir.Normalize(map[string]any(snap.Context))
		if err != nil {
			return nil, fmt.Errorf("decode snapshot context: %w", err)
		}
		snap.Context = ir.StoreContext(v.(map[string]any))
	}
	return &snap, nil
}

// writeSnapshot writes a snapshot as canonical JSON.
func writeSnapshot(path string, snap *ir.Snapshot) error {
	data, err := ir.MarshalCanonical(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
