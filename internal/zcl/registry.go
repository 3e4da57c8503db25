package zcl

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry holds all known ZCL cluster definitions.
type Registry struct {
	mu       sync.RWMutex
	clusters map[uint16]*ClusterDef
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger means slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clusters: make(map[uint16]*ClusterDef),
		logger:   logger,
	}
}

// Register adds a cluster definition to the registry. Registering an ID
// that already exists merges the new attributes and commands into it.
func (r *Registry) Register(c ClusterDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clusters[c.ID]; ok {
		existing.Merge(&c)
		r.logger.Debug("cluster merged", "id", fmt.Sprintf("0x%04X", c.ID), "name", existing.Name)
		return
	}
	r.clusters[c.ID] = c.DeepCopy()
	r.logger.Debug("cluster registered", "id", fmt.Sprintf("0x%04X", c.ID), "name", c.Name)
}

// Get returns a cluster definition by ID, or nil if not found.
// The returned value is a deep copy; callers may modify it safely.
func (r *Registry) Get(id uint16) *ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clusters[id]
	if c == nil {
		return nil
	}
	return c.DeepCopy()
}

// ByName finds a cluster by name, ignoring case and spaces
// ("OnOff", "on/off" and "On/Off" all match).
func (r *Registry) ByName(name string) *ClusterDef {
	want := normalizeName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clusters {
		if normalizeName(c.Name) == want {
			return c.DeepCopy()
		}
	}
	return nil
}

func normalizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(s))
}

// All returns all registered cluster definitions sorted by ID.
// Each entry is a deep copy; callers may modify them safely.
func (r *Registry) All() []ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ClusterDef, 0, len(r.clusters))
	for _, c := range r.clusters {
		result = append(result, *c.DeepCopy())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// LoadFile registers the clusters listed in a YAML definitions file:
//
//	clusters:
//	  - id: 0xFC00
//	    name: Vendor
//	    attributes:
//	      - {id: 0x0000, name: Mode, type: enum8, access: 3}
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read cluster definitions: %w", err)
	}
	var file struct {
		Clusters []ClusterDef `yaml:"clusters"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, c := range file.Clusters {
		if c.Name == "" {
			return fmt.Errorf("%s: cluster 0x%04X has no name", path, c.ID)
		}
		r.Register(c)
	}
	r.logger.Info("cluster definitions loaded", "path", path, "count", len(file.Clusters))
	return nil
}
