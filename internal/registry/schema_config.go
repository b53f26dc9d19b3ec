package registry

import (
	"fmt"

	"github.com/rzpsarthak13/modelstore/internal/core"
)

// SchemaConfig declares a model in configuration.
type SchemaConfig struct {
	Name    string         `yaml:"name" json:"name"`
	Columns []ColumnConfig `yaml:"columns" json:"columns"`
	Indexes []IndexConfig  `yaml:"indexes,omitempty" json:"indexes,omitempty"`
}

// ColumnConfig declares one column. Prefix names the part prefix of a
// composite column and defaults to the column name; part names are stored
// with the prefix prepended.
type ColumnConfig struct {
	Name       string         `yaml:"name" json:"name"`
	Kind       string         `yaml:"kind" json:"kind"`
	Length     int            `yaml:"length,omitempty" json:"length,omitempty"`
	Precision  int            `yaml:"precision,omitempty" json:"precision,omitempty"`
	Scale      int            `yaml:"scale,omitempty" json:"scale,omitempty"`
	Default    any            `yaml:"default,omitempty" json:"default,omitempty"`
	Nullable   bool           `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	Unsigned   bool           `yaml:"unsigned,omitempty" json:"unsigned,omitempty"`
	Values     []string       `yaml:"values,omitempty" json:"values,omitempty"`
	References string         `yaml:"references,omitempty" json:"references,omitempty"`
	Prefix     string         `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Parts      []ColumnConfig `yaml:"parts,omitempty" json:"parts,omitempty"`
}

// IndexConfig declares a secondary index. Kind is "unique" or "plain".
type IndexConfig struct {
	Name    string   `yaml:"name" json:"name"`
	Kind    string   `yaml:"kind" json:"kind"`
	Columns []string `yaml:"columns" json:"columns"`
}

// Build constructs and validates the declared schema. The result is not frozen.
func (sc SchemaConfig) Build() (*core.ModelSchema, error) {
	if sc.Name == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	s := core.NewModelSchema(sc.Name)
	for _, cc := range sc.Columns {
		col, err := cc.column()
		if err != nil {
			return nil, fmt.Errorf("schema %q: %w", sc.Name, err)
		}
		if err := s.AddColumn(col); err != nil {
			return nil, err
		}
	}
	for _, ic := range sc.Indexes {
		kind := core.IndexKind(ic.Kind)
		if kind == "" {
			kind = core.IndexPlain
		}
		if kind != core.IndexUnique && kind != core.IndexPlain {
			return nil, fmt.Errorf("schema %q: index %q: kind must be 'unique' or 'plain'", sc.Name, ic.Name)
		}
		if err := s.AddIndex(core.Index{Name: ic.Name, Kind: kind, Columns: ic.Columns}); err != nil {
			return nil, err
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (cc ColumnConfig) column() (core.Column, error) {
	kind := core.ColumnKind(cc.Kind)
	if !kind.IsValid() {
		return core.Column{}, fmt.Errorf("column %q: unknown kind %q", cc.Name, cc.Kind)
	}
	col := core.Column{
		Name:       cc.Name,
		Kind:       kind,
		Length:     cc.Length,
		Precision:  cc.Precision,
		Scale:      cc.Scale,
		Default:    cc.Default,
		Nullable:   cc.Nullable,
		Unsigned:   cc.Unsigned,
		Values:     cc.Values,
		References: cc.References,
	}
	if kind == core.KindComposite {
		prefix := cc.Prefix
		if prefix == "" {
			prefix = cc.Name
		}
		col.Composite = core.PrefixedComposite{Prefix: prefix}
		for _, pc := range cc.Parts {
			part, err := pc.column()
			if err != nil {
				return core.Column{}, fmt.Errorf("column %q: %w", cc.Name, err)
			}
			part.Name = prefix + pc.Name
			col.Parts = append(col.Parts, part)
		}
	}
	return col, nil
}
