package core

import (
	"fmt"
	"strings"
	"time"
)

// ColumnKind is the semantic type tag of a column.
type ColumnKind string

const (
	// KindInteger is a signed or unsigned whole number.
	KindInteger ColumnKind = "integer"

	// KindString is a bounded-width string.
	KindString ColumnKind = "string"

	// KindText is an unbounded string.
	KindText ColumnKind = "text"

	// KindDecimal is a fixed-point number with precision and scale.
	KindDecimal ColumnKind = "decimal"

	// KindFloat is a floating point number.
	KindFloat ColumnKind = "float"

	// KindBoolean is a true/false flag.
	KindBoolean ColumnKind = "boolean"

	// KindDate is a calendar date without time of day.
	KindDate ColumnKind = "date"

	// KindDateTime is a date with time of day, second precision, UTC.
	KindDateTime ColumnKind = "datetime"

	// KindTime is a time of day.
	KindTime ColumnKind = "time"

	// KindEnum is a string restricted to Column.Values.
	KindEnum ColumnKind = "enum"

	// KindJSON is an arbitrary JSON document.
	KindJSON ColumnKind = "json"

	// KindList is an ordered list of scalar values.
	KindList ColumnKind = "list"

	// KindAutoIncrement is the backend-assigned unique identifier.
	KindAutoIncrement ColumnKind = "autoincrement"

	// KindForeignKey is a reference to another entity's identifier.
	KindForeignKey ColumnKind = "foreignkey"

	// KindComposite is a value stored as several independently filterable part columns.
	KindComposite ColumnKind = "composite"
)

// IsValid reports whether k is a known column kind.
func (k ColumnKind) IsValid() bool {
	switch k {
	case KindInteger, KindString, KindText, KindDecimal, KindFloat, KindBoolean,
		KindDate, KindDateTime, KindTime, KindEnum, KindJSON, KindList,
		KindAutoIncrement, KindForeignKey, KindComposite:
		return true
	}
	return false
}

// ValueTransform converts a column value to and from its stored form.
// Attribute writes pass through ToStorage, attribute reads through FromStorage.
type ValueTransform interface {
	ToStorage(value any) (any, error)
	FromStorage(value any) (any, error)
}

// CompositeCodec splits a composite value into part column values and joins them back.
type CompositeCodec interface {
	// Split returns the stored part values keyed by part column name.
	Split(value any) (map[string]any, error)

	// Join rebuilds the composite value from the stored part values.
	Join(parts map[string]any) (any, error)
}

// Column describes a single field of a model.
type Column struct {
	// Name is the column name, unique within a schema.
	Name string

	// Kind is the semantic type of the column.
	Kind ColumnKind

	// Length is the width of string columns. Zero means the backend default.
	Length int

	// Precision and Scale apply to decimal columns.
	Precision int
	Scale     int

	// Default is the value new entities start with. Nil means no default,
	// which for nullable columns renders as DEFAULT NULL.
	Default any

	// Nullable indicates whether the column may hold NULL.
	Nullable bool

	// Unsigned applies to integer columns.
	Unsigned bool

	// Values lists the allowed members of an enum column.
	Values []string

	// References names the model a foreign key column points to.
	References string

	// Parts are the stored sub-columns of a composite column.
	Parts []Column

	// Composite splits and joins composite values.
	Composite CompositeCodec

	// Transform is applied on attribute write and read.
	Transform ValueTransform
}

// Stored reports whether the column occupies a storage column of its own.
func (c Column) Stored() bool {
	return c.Kind != KindComposite
}

// IndexKind classifies an index.
type IndexKind string

const (
	IndexPrimary    IndexKind = "primary"
	IndexUnique     IndexKind = "unique"
	IndexPlain      IndexKind = "plain"
	IndexForeignKey IndexKind = "foreignkey"
)

// PrimaryIndexName is the name of the index registered for the unique identifier.
const PrimaryIndexName = "PRIMARY"

// Index is a named reference to one or more columns.
type Index struct {
	Name    string
	Kind    IndexKind
	Columns []string
}

// ModelSchema is the declared structure of one entity type.
// It is built once, validated, then frozen on registration.
type ModelSchema struct {
	// Name identifies the entity type and names its backing table.
	Name string

	// UniqueIdentifier is the name of the auto-increment column.
	UniqueIdentifier string

	columns   []Column
	positions map[string]int
	indexes   []Index
	indexPos  map[string]int
	frozen    bool
}

// NewModelSchema creates an empty schema for the named entity type.
func NewModelSchema(name string) *ModelSchema {
	return &ModelSchema{
		Name:      name,
		positions: make(map[string]int),
		indexPos:  make(map[string]int),
	}
}

// AddColumn appends a column. An auto-increment column becomes the unique
// identifier and registers the primary index; a foreign key column registers
// a non-unique index named after itself.
func (s *ModelSchema) AddColumn(c Column) error {
	if s.frozen {
		return fmt.Errorf("%w: cannot add column %q to %q", ErrSchemaFrozen, c.Name, s.Name)
	}
	if c.Name == "" {
		return &SchemaError{Schema: s.Name, Message: "column name cannot be empty"}
	}
	if !c.Kind.IsValid() {
		return &SchemaError{Schema: s.Name, Column: c.Name, Message: fmt.Sprintf("unknown column kind %q", c.Kind)}
	}
	if _, exists := s.positions[c.Name]; exists {
		return &SchemaError{Schema: s.Name, Column: c.Name, Message: "duplicate column"}
	}
	if c.Kind == KindAutoIncrement {
		if s.UniqueIdentifier != "" {
			return &SchemaError{Schema: s.Name, Column: c.Name, Message: fmt.Sprintf("schema already has auto-increment column %q", s.UniqueIdentifier)}
		}
	}

	s.positions[c.Name] = len(s.columns)
	s.columns = append(s.columns, c)

	switch c.Kind {
	case KindAutoIncrement:
		s.UniqueIdentifier = c.Name
		return s.AddIndex(Index{Name: PrimaryIndexName, Kind: IndexPrimary, Columns: []string{c.Name}})
	case KindForeignKey:
		return s.AddIndex(Index{Name: c.Name, Kind: IndexForeignKey, Columns: []string{c.Name}})
	}
	return nil
}

// AddIndex registers an index. Every referenced column must already exist.
func (s *ModelSchema) AddIndex(idx Index) error {
	if s.frozen {
		return fmt.Errorf("%w: cannot add index %q to %q", ErrSchemaFrozen, idx.Name, s.Name)
	}
	if idx.Name == "" {
		return &SchemaError{Schema: s.Name, Message: "index name cannot be empty"}
	}
	if len(idx.Columns) == 0 {
		return &SchemaError{Schema: s.Name, Message: fmt.Sprintf("index %q has no columns", idx.Name)}
	}
	if _, exists := s.indexPos[idx.Name]; exists {
		return &SchemaError{Schema: s.Name, Message: fmt.Sprintf("duplicate index %q", idx.Name)}
	}
	for _, name := range idx.Columns {
		if _, ok := s.StorageColumn(name); !ok {
			return &SchemaError{Schema: s.Name, Column: name, Message: fmt.Sprintf("index %q references unknown column", idx.Name)}
		}
	}
	s.indexPos[idx.Name] = len(s.indexes)
	s.indexes = append(s.indexes, Index{Name: idx.Name, Kind: idx.Kind, Columns: append([]string(nil), idx.Columns...)})
	return nil
}

// AlterColumn replaces the definition of an existing column.
// Only unfrozen schemas (typically a Clone) can be altered.
func (s *ModelSchema) AlterColumn(c Column) error {
	if s.frozen {
		return fmt.Errorf("%w: cannot alter column %q of %q", ErrSchemaFrozen, c.Name, s.Name)
	}
	pos, ok := s.positions[c.Name]
	if !ok {
		return &SchemaError{Schema: s.Name, Column: c.Name, Message: "unknown column"}
	}
	old := s.columns[pos]
	if (old.Kind == KindAutoIncrement) != (c.Kind == KindAutoIncrement) {
		return &SchemaError{Schema: s.Name, Column: c.Name, Message: "cannot change the unique identifier"}
	}
	s.columns[pos] = c
	return nil
}

// Column returns the model-level column with the given name.
func (s *ModelSchema) Column(name string) (Column, bool) {
	pos, ok := s.positions[name]
	if !ok {
		return Column{}, false
	}
	return s.columns[pos], true
}

// StorageColumn looks up a stored column, including composite parts.
func (s *ModelSchema) StorageColumn(name string) (Column, bool) {
	if c, ok := s.Column(name); ok && c.Stored() {
		return c, true
	}
	for _, c := range s.columns {
		if c.Kind != KindComposite {
			continue
		}
		for _, p := range c.Parts {
			if p.Name == name {
				return p, true
			}
		}
	}
	return Column{}, false
}

// Columns returns the model-level columns in declaration order.
func (s *ModelSchema) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// StorageColumns returns the stored columns in declaration order, with
// composite columns replaced by their parts.
func (s *ModelSchema) StorageColumns() []Column {
	out := make([]Column, 0, len(s.columns))
	for _, c := range s.columns {
		if c.Kind == KindComposite {
			out = append(out, c.Parts...)
			continue
		}
		out = append(out, c)
	}
	return out
}

// Indexes returns the indexes in registration order.
func (s *ModelSchema) Indexes() []Index {
	out := make([]Index, len(s.indexes))
	copy(out, s.indexes)
	return out
}

// Validate checks all schema invariants.
func (s *ModelSchema) Validate() error {
	if s.Name == "" {
		return &SchemaError{Message: "schema name cannot be empty"}
	}
	if s.UniqueIdentifier == "" {
		return &SchemaError{Schema: s.Name, Message: "schema has no auto-increment unique identifier"}
	}

	seen := make(map[string]struct{})
	primaries := 0
	for _, c := range s.columns {
		if err := s.validateColumn(c); err != nil {
			return err
		}
		for _, sc := range flatten(c) {
			if _, dup := seen[sc.Name]; dup {
				return &SchemaError{Schema: s.Name, Column: sc.Name, Message: "duplicate storage column"}
			}
			seen[sc.Name] = struct{}{}
		}
	}
	for _, idx := range s.indexes {
		if idx.Kind == IndexPrimary {
			primaries++
		}
		for _, name := range idx.Columns {
			if _, ok := seen[name]; !ok {
				return &SchemaError{Schema: s.Name, Column: name, Message: fmt.Sprintf("index %q references unknown column", idx.Name)}
			}
		}
	}
	if primaries != 1 {
		return &SchemaError{Schema: s.Name, Message: fmt.Sprintf("expected exactly one primary index, found %d", primaries)}
	}
	return nil
}

func (s *ModelSchema) validateColumn(c Column) error {
	switch c.Kind {
	case KindEnum:
		if len(c.Values) == 0 {
			return &SchemaError{Schema: s.Name, Column: c.Name, Message: "enum column has no values"}
		}
		if c.Default == nil {
			return &SchemaError{Schema: s.Name, Column: c.Name, Message: "enum column must declare a default"}
		}
		def := fmt.Sprint(c.Default)
		for _, v := range c.Values {
			if v == def {
				return nil
			}
		}
		return &SchemaError{Schema: s.Name, Column: c.Name, Message: fmt.Sprintf("default %q is not an enum member", def)}
	case KindDecimal:
		if c.Precision < 0 || c.Scale < 0 || (c.Precision > 0 && c.Scale > c.Precision) {
			return &SchemaError{Schema: s.Name, Column: c.Name, Message: "invalid decimal precision/scale"}
		}
	case KindForeignKey:
		if c.References == "" {
			return &SchemaError{Schema: s.Name, Column: c.Name, Message: "foreign key does not name the referenced model"}
		}
	case KindComposite:
		if c.Composite == nil {
			return &SchemaError{Schema: s.Name, Column: c.Name, Message: "composite column has no codec"}
		}
		if len(c.Parts) == 0 {
			return &SchemaError{Schema: s.Name, Column: c.Name, Message: "composite column has no parts"}
		}
		for _, p := range c.Parts {
			if !p.Stored() || p.Kind == KindAutoIncrement {
				return &SchemaError{Schema: s.Name, Column: p.Name, Message: "composite part must be a plain stored column"}
			}
			if err := s.validateColumn(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// Freeze validates the schema and makes it immutable.
func (s *ModelSchema) Freeze() error {
	if s.frozen {
		return nil
	}
	if err := s.Validate(); err != nil {
		return err
	}
	s.frozen = true
	return nil
}

// Frozen reports whether the schema has been registered.
func (s *ModelSchema) Frozen() bool {
	return s.frozen
}

// Clone returns an unfrozen deep copy suitable for migration edits.
func (s *ModelSchema) Clone() *ModelSchema {
	out := NewModelSchema(s.Name)
	out.UniqueIdentifier = s.UniqueIdentifier
	for _, c := range s.columns {
		out.positions[c.Name] = len(out.columns)
		out.columns = append(out.columns, cloneColumn(c))
	}
	for _, idx := range s.indexes {
		out.indexPos[idx.Name] = len(out.indexes)
		out.indexes = append(out.indexes, Index{Name: idx.Name, Kind: idx.Kind, Columns: append([]string(nil), idx.Columns...)})
	}
	return out
}

// Defaults returns the initial model-level values of a new entity.
// Non-nullable columns without a declared default start at their zero value.
func (s *ModelSchema) Defaults() Row {
	row := make(Row, len(s.columns))
	for _, c := range s.columns {
		if c.Kind == KindAutoIncrement {
			row[c.Name] = nil
			continue
		}
		row[c.Name] = DefaultValue(c)
	}
	return row
}

// DefaultValue returns the value a column starts with.
func DefaultValue(c Column) any {
	if c.Default != nil || c.Nullable {
		return c.Default
	}
	switch c.Kind {
	case KindInteger, KindForeignKey:
		return int64(0)
	case KindString, KindText, KindTime:
		return ""
	case KindDecimal, KindFloat:
		return float64(0)
	case KindBoolean:
		return false
	case KindDate, KindDateTime:
		return time.Time{}
	case KindList:
		return []string{}
	}
	return nil
}

func flatten(c Column) []Column {
	if c.Kind == KindComposite {
		return c.Parts
	}
	return []Column{c}
}

func cloneColumn(c Column) Column {
	c.Values = append([]string(nil), c.Values...)
	if len(c.Parts) > 0 {
		parts := make([]Column, len(c.Parts))
		for i, p := range c.Parts {
			parts[i] = cloneColumn(p)
		}
		c.Parts = parts
	}
	return c
}

// PrefixedComposite stores a map value as part columns named Prefix+key.
type PrefixedComposite struct {
	Prefix string
}

// Split implements CompositeCodec.
func (p PrefixedComposite) Split(value any) (map[string]any, error) {
	out := make(map[string]any)
	if value == nil {
		return out, nil
	}
	switch v := value.(type) {
	case map[string]any:
		for k, part := range v {
			out[p.Prefix+k] = part
		}
	case map[string]string:
		for k, part := range v {
			out[p.Prefix+k] = part
		}
	default:
		return nil, fmt.Errorf("composite value must be a map, got %T", value)
	}
	return out, nil
}

// Join implements CompositeCodec. Nil parts are omitted; a value with no
// parts set joins to nil.
func (p PrefixedComposite) Join(parts map[string]any) (any, error) {
	out := make(map[string]any)
	for name, v := range parts {
		if v == nil {
			continue
		}
		key, ok := strings.CutPrefix(name, p.Prefix)
		if !ok {
			return nil, fmt.Errorf("part %q does not carry prefix %q", name, p.Prefix)
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
