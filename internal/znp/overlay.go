package znp

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"znp-host/internal/unpi"
)

// overlayFile is the on-disk form of extra command definitions:
//
//	commands:
//	  - subsystem: SYS
//	    name: zdiagsRestoreStatsNv
//	    id: 0x1A
//	    type: SREQ
//	    response:
//	      - {name: status, type: uint8}
type overlayFile struct {
	Commands []overlayCommand `yaml:"commands"`
}

type overlayCommand struct {
	Subsystem string     `yaml:"subsystem"`
	Name      string     `yaml:"name"`
	ID        uint8      `yaml:"id"`
	Type      string     `yaml:"type"`
	Request   []ParamDef `yaml:"request"`
	Response  []ParamDef `yaml:"response"`
	Slow      bool       `yaml:"slow"`
}

// ParseOverlay decodes YAML command definitions. Unknown keys are rejected.
func ParseOverlay(data []byte) ([]CommandDef, error) {
	var f overlayFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse overlay: %w", err)
	}
	out := make([]CommandDef, 0, len(f.Commands))
	for i, c := range f.Commands {
		sub, ok := unpi.ParseSubsystem(c.Subsystem)
		if !ok {
			return nil, fmt.Errorf("overlay command %d (%s): unknown subsystem %q", i, c.Name, c.Subsystem)
		}
		var typ unpi.Type
		switch strings.ToUpper(c.Type) {
		case "SREQ":
			typ = unpi.SREQ
		case "AREQ":
			typ = unpi.AREQ
		default:
			return nil, fmt.Errorf("overlay command %d (%s): type must be SREQ or AREQ, got %q", i, c.Name, c.Type)
		}
		out = append(out, CommandDef{
			Subsystem: sub,
			Name:      c.Name,
			ID:        c.ID,
			Type:      typ,
			Request:   c.Request,
			Response:  c.Response,
			Slow:      c.Slow,
		})
	}
	return out, nil
}

// LoadRegistry builds a registry from the built-in definitions plus the
// overlay files, applied in order. Overlay entries replace built-ins with
// the same subsystem and name.
func LoadRegistry(paths ...string) (*Registry, error) {
	sets := [][]CommandDef{Builtin()}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read overlay: %w", err)
		}
		defs, err := ParseOverlay(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		sets = append(sets, defs)
	}
	return NewRegistry(sets...)
}
