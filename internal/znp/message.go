package znp

import (
	"fmt"
	"sort"
	"strings"

	"znp-host/internal/unpi"
)

// Params holds decoded or to-be-encoded parameter values by name.
type Params map[string]any

// Uint returns a numeric parameter as uint64.
func (p Params) Uint(name string) (uint64, bool) {
	v, ok := p[name]
	if !ok {
		return 0, false
	}
	n, err := toUint(v, 64)
	return n, err == nil
}

// Bytes returns a buffer parameter.
func (p Params) Bytes(name string) ([]byte, bool) {
	v, ok := p[name]
	if !ok {
		return nil, false
	}
	b, err := toBytes(v)
	return b, err == nil
}

// String returns a string parameter such as a long address.
func (p Params) String(name string) (string, bool) {
	s, ok := p[name].(string)
	return s, ok
}

// Message is a decoded MT frame.
type Message struct {
	Type      unpi.Type      `json:"type"`
	Subsystem unpi.Subsystem `json:"subsystem"`
	Name      string         `json:"command"`
	ID        uint8          `json:"id"`
	Params    Params         `json:"payload"`
}

// Key returns the correlation key of the message, e.g. "SRSP:SYS:ping".
func (m *Message) Key() string {
	return eventKey(m.Type, m.Subsystem, m.Name)
}

func (m *Message) String() string {
	keys := make([]string, 0, len(m.Params))
	for k := range m.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(m.Key())
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, m.Params[k])
	}
	return b.String()
}

func eventKey(t unpi.Type, sub unpi.Subsystem, name string) string {
	return t.String() + ":" + sub.String() + ":" + name
}

// EncodeParams serializes params in definition order. Count fields in front
// of length-prefixed fields are derived when absent and checked when present.
func EncodeParams(defs []ParamDef, params Params) ([]byte, error) {
	var out []byte
	for i, d := range defs {
		v, ok := params[d.Name]
		if !ok {
			if i+1 < len(defs) && defs[i+1].Type.LengthPrefixed() {
				next := defs[i+1]
				n, err := valueLen(next.Type, params[next.Name])
				if err != nil {
					return nil, &EncodeError{Param: next.Name, Type: next.Type, Value: params[next.Name], Reason: err.Error()}
				}
				v = n
			} else if d.Type.Remaining() || d.Type.LengthPrefixed() {
				v = nil
			} else {
				return nil, &EncodeError{Param: d.Name, Type: d.Type, Reason: "missing parameter"}
			}
		}
		if d.Type.LengthPrefixed() {
			want, _ := toUint(params[defs[i-1].Name], 64)
			if _, given := params[defs[i-1].Name]; given {
				n, err := valueLen(d.Type, v)
				if err != nil {
					return nil, &EncodeError{Param: d.Name, Type: d.Type, Value: v, Reason: err.Error()}
				}
				if uint64(n) != want {
					return nil, &EncodeError{Param: d.Name, Type: d.Type, Value: v,
						Reason: fmt.Sprintf("length mismatch: %s is %d, value has %d", defs[i-1].Name, want, n)}
				}
			}
		}
		var err error
		out, err = AppendParam(out, d.Type, v)
		if err != nil {
			if ee, ok := err.(*EncodeError); ok {
				ee.Param = d.Name
			}
			return nil, err
		}
	}
	return out, nil
}

// DecodeParams parses payload against defs. Trailing bytes beyond the last
// definition are ignored; newer firmware appends fields to some responses.
func DecodeParams(defs []ParamDef, payload []byte) (Params, error) {
	out := make(Params, len(defs))
	off := 0
	for i, d := range defs {
		var opts ReadOptions
		switch {
		case d.Type.LengthPrefixed():
			n, ok := out.Uint(defs[i-1].Name)
			if !ok {
				return nil, &DecodeError{Param: d.Name, Type: d.Type, Offset: off, Err: ErrMissingLength}
			}
			opts = WithLength(int(n))
		case d.Type.Remaining():
			opts = WithLength(len(payload) - off)
		}
		v, n, err := ReadParam(d.Type, payload, off, opts)
		if err != nil {
			if de, ok := err.(*DecodeError); ok {
				de.Param = d.Name
			}
			return nil, err
		}
		out[d.Name] = v
		off += n
	}
	return out, nil
}

// EncodeRequest serializes a host-originated command into a frame.
func EncodeRequest(def *CommandDef, params Params) (unpi.Frame, error) {
	payload, err := EncodeParams(def.Request, params)
	if err != nil {
		return unpi.Frame{}, fmt.Errorf("%s: %w", def.Key(), err)
	}
	if len(payload) > unpi.MaxPayload {
		return unpi.Frame{}, &EncodeError{Reason: fmt.Sprintf("%s payload is %d bytes (max %d)", def.Key(), len(payload), unpi.MaxPayload)}
	}
	return unpi.Frame{Type: def.Type, Subsystem: def.Subsystem, Command: def.ID, Payload: payload}, nil
}

// DecodeFrame resolves an inbound frame against the registry and decodes it.
func DecodeFrame(r *Registry, f unpi.Frame) (*Message, error) {
	def, ok := r.LookupFrame(f.Type, f.Subsystem, f.Command)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s 0x%02X", ErrUnknownCommand, f.Type, f.Subsystem, f.Command)
	}
	defs := def.Request
	if f.Type == unpi.SRSP {
		defs = def.Response
	}
	params, err := DecodeParams(defs, f.Payload)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", f.Type, def.Key(), err)
	}
	return &Message{Type: f.Type, Subsystem: f.Subsystem, Name: def.Name, ID: f.Command, Params: params}, nil
}
