package zcl

import "fmt"

// EncodeFunctional encodes a cluster-specific command payload from named
// values in parameter order. Every parameter is required.
func EncodeFunctional(cmd *CommandDef, values map[string]any) ([]byte, error) {
	var out []byte
	for _, p := range cmd.Params {
		v, ok := values[p.Name]
		if !ok {
			return nil, fmt.Errorf("zcl: %s: missing parameter %q", cmd.Name, p.Name)
		}
		var err error
		if out, err = AppendValue(out, p.Type, v); err != nil {
			return nil, fmt.Errorf("zcl: %s.%s: %w", cmd.Name, p.Name, err)
		}
	}
	return out, nil
}

// DecodeFunctional decodes a cluster-specific command payload. Trailing
// bytes are ignored.
func DecodeFunctional(cmd *CommandDef, payload []byte) (map[string]any, error) {
	out := make(map[string]any, len(cmd.Params))
	off := 0
	for _, p := range cmd.Params {
		v, n, err := DecodeValue(p.Type, payload[off:])
		if err != nil {
			return nil, fmt.Errorf("zcl: %s.%s at offset %d: %w", cmd.Name, p.Name, off, err)
		}
		out[p.Name] = v
		off += n
	}
	return out, nil
}
