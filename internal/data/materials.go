package data

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Material describes one wall material's durability.
type Material struct {
	Name      string `yaml:"name"`
	MaxHealth int    `yaml:"max_health"`
}

type materialFile struct {
	Materials []Material `yaml:"materials"`
}

// MaterialTable indexes materials by name.
type MaterialTable struct {
	byName map[string]*Material
}

// LoadMaterialTable reads the material YAML file.
func LoadMaterialTable(path string) (*MaterialTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read material file")
	}
	var file materialFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrap(err, "parse material yaml")
	}

	t := &MaterialTable{byName: make(map[string]*Material, len(file.Materials))}
	for i := range file.Materials {
		m := &file.Materials[i]
		if m.Name == "" {
			return nil, errors.Errorf("material %d: missing name", i)
		}
		if m.MaxHealth < 1 {
			return nil, errors.Errorf("material %s: max_health %d must be positive", m.Name, m.MaxHealth)
		}
		if _, exists := t.byName[m.Name]; exists {
			return nil, errors.Errorf("material %s: duplicate name", m.Name)
		}
		t.byName[m.Name] = m
	}
	return t, nil
}

// DefaultMaterialTable returns the built-in table used when no file is
// configured.
func DefaultMaterialTable() *MaterialTable {
	return &MaterialTable{byName: map[string]*Material{
		"concrete": {Name: "concrete", MaxHealth: 100},
		"brick":    {Name: "brick", MaxHealth: 80},
		"wood":     {Name: "wood", MaxHealth: 60},
	}}
}

// Get looks up a material by name.
func (t *MaterialTable) Get(name string) (*Material, bool) {
	if t == nil {
		return nil, false
	}
	m, ok := t.byName[name]
	return m, ok
}

// Count reports the number of materials.
func (t *MaterialTable) Count() int {
	if t == nil {
		return 0
	}
	return len(t.byName)
}

// Names returns the material names in sorted order so callers drawing from
// the table stay deterministic.
func (t *MaterialTable) Names() []string {
	if t == nil || len(t.byName) == 0 {
		return nil
	}
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hash digests the table contents. Clients compare it against the value
// echoed at join time to detect stale cached material data.
func (t *MaterialTable) Hash() string {
	h := sha256.New()
	for _, name := range t.Names() {
		m := t.byName[name]
		fmt.Fprintf(h, "%s:%d\n", m.Name, m.MaxHealth)
	}
	return hex.EncodeToString(h.Sum(nil))
}
