package znp

import (
	"fmt"
	"log/slog"
	"sort"

	"znp-host/internal/unpi"
)

// ParamDef describes one named field of a command payload.
type ParamDef struct {
	Name string    `yaml:"name" json:"name"`
	Type ParamType `yaml:"type" json:"type"`
}

// CommandDef describes one MT command. Request holds the parameters sent by
// the host for SREQ/AREQ commands and the parameters of device-originated
// AREQ indications. Response holds the SRSP parameters.
type CommandDef struct {
	Subsystem unpi.Subsystem `json:"subsystem"`
	Name      string         `json:"name"`
	ID        uint8          `json:"id"`
	Type      unpi.Type      `json:"type"`
	Request   []ParamDef     `json:"request,omitempty"`
	Response  []ParamDef     `json:"response,omitempty"`
	// Slow marks commands whose SRSP routinely takes longer than the default timeout.
	Slow bool `json:"slow,omitempty"`
}

// Key returns "<SUBSYS>:<name>".
func (d *CommandDef) Key() string {
	return d.Subsystem.String() + ":" + d.Name
}

func (d *CommandDef) hasStatus() bool {
	return len(d.Response) > 0 && d.Response[0].Name == "status"
}

type idKey struct {
	sub  unpi.Subsystem
	areq bool
	id   uint8
}

// Registry is an immutable lookup of command definitions. It is safe to share
// between goroutines once built.
type Registry struct {
	byName map[unpi.Subsystem]map[string]*CommandDef
	byID   map[idKey]*CommandDef
}

// NewRegistry builds a registry. Later definitions replace earlier ones with
// the same subsystem and name.
func NewRegistry(defs ...[]CommandDef) (*Registry, error) {
	r := &Registry{
		byName: make(map[unpi.Subsystem]map[string]*CommandDef),
		byID:   make(map[idKey]*CommandDef),
	}
	for _, set := range defs {
		for i := range set {
			if err := r.add(set[i]); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// DefaultRegistry returns the registry of built-in definitions.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Builtin())
	if err != nil {
		panic(fmt.Sprintf("znp: builtin definitions: %v", err))
	}
	return r
}

func (r *Registry) add(d CommandDef) error {
	if d.Name == "" {
		return fmt.Errorf("znp: definition %s 0x%02X has no name", d.Subsystem, d.ID)
	}
	if d.Type != unpi.SREQ && d.Type != unpi.AREQ {
		return fmt.Errorf("znp: %s: type must be SREQ or AREQ, got %s", d.Key(), d.Type)
	}
	if err := validateParams(d.Request); err != nil {
		return fmt.Errorf("znp: %s request: %w", d.Key(), err)
	}
	if err := validateParams(d.Response); err != nil {
		return fmt.Errorf("znp: %s response: %w", d.Key(), err)
	}
	def := d
	names := r.byName[d.Subsystem]
	if names == nil {
		names = make(map[string]*CommandDef)
		r.byName[d.Subsystem] = names
	}
	if old, ok := names[d.Name]; ok {
		delete(r.byID, idKey{old.Subsystem, old.Type == unpi.AREQ, old.ID})
	}
	k := idKey{d.Subsystem, d.Type == unpi.AREQ, d.ID}
	if other, ok := r.byID[k]; ok && other.Name != d.Name {
		return fmt.Errorf("znp: %s: id 0x%02X already used by %s", d.Key(), d.ID, other.Name)
	}
	names[d.Name] = &def
	r.byID[k] = &def
	return nil
}

// validateParams checks that every length-prefixed field follows a field
// that can carry its count.
func validateParams(params []ParamDef) error {
	for i, p := range params {
		if p.Type.LengthPrefixed() {
			if i == 0 {
				return fmt.Errorf("%s (%s) has no preceding length field", p.Name, p.Type)
			}
			switch params[i-1].Type {
			case Uint8, Uint16:
			default:
				return fmt.Errorf("%s (%s) follows %s (%s), which cannot carry a length",
					p.Name, p.Type, params[i-1].Name, params[i-1].Type)
			}
		}
		if p.Type.Remaining() && i != len(params)-1 {
			return fmt.Errorf("%s (%s) must be the last field", p.Name, p.Type)
		}
	}
	return nil
}

// Lookup finds a command by subsystem and name.
func (r *Registry) Lookup(sub unpi.Subsystem, name string) (*CommandDef, bool) {
	d, ok := r.byName[sub][name]
	return d, ok
}

// LookupFrame finds the definition that describes an inbound frame: SRSP
// frames resolve to their SREQ, AREQ frames to the indication.
func (r *Registry) LookupFrame(t unpi.Type, sub unpi.Subsystem, id uint8) (*CommandDef, bool) {
	switch t {
	case unpi.SRSP, unpi.SREQ:
		d, ok := r.byID[idKey{sub, false, id}]
		return d, ok
	case unpi.AREQ:
		d, ok := r.byID[idKey{sub, true, id}]
		return d, ok
	}
	return nil, false
}

// All returns every definition ordered by subsystem, type and id.
func (r *Registry) All() []CommandDef {
	out := make([]CommandDef, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Subsystem != b.Subsystem {
			return a.Subsystem < b.Subsystem
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
	return out
}

// Len returns the number of definitions.
func (r *Registry) Len() int { return len(r.byID) }

// LogValue implements slog.LogValuer.
func (r *Registry) LogValue() slog.Value {
	return slog.GroupValue(slog.Int("commands", r.Len()), slog.Int("subsystems", len(r.byName)))
}
