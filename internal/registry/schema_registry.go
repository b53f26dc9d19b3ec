package registry

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/reconcile"
)

// SchemaMetadata contains metadata about a registered model schema.
type SchemaMetadata struct {
	// Name is the schema name.
	Name string

	// Schema is the frozen model schema.
	Schema *core.ModelSchema

	// RegisteredAt is the timestamp when the schema was registered.
	RegisteredAt time.Time

	// ReconciledAt is the timestamp of the last successful reconciliation.
	ReconciledAt *time.Time

	// LastStatement is the last structural change applied, if any.
	LastStatement *reconcile.Statement
}

// SchemaRegistry holds the registered model schemas.
// Registration validates and freezes a schema; afterwards it is read-only.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*SchemaMetadata
}

// NewSchemaRegistry creates an empty schema registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		schemas: make(map[string]*SchemaMetadata),
	}
}

// Register validates, freezes and records a schema.
// Registering a second schema under the same name fails.
func (sr *SchemaRegistry) Register(schema *core.ModelSchema) error {
	if schema == nil {
		return fmt.Errorf("schema cannot be nil")
	}
	if schema.Name == "" {
		return fmt.Errorf("schema name cannot be empty")
	}
	if err := schema.Freeze(); err != nil {
		return err
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	if existing, exists := sr.schemas[schema.Name]; exists && existing.Schema != schema {
		return fmt.Errorf("schema %q is already registered", schema.Name)
	}
	sr.schemas[schema.Name] = &SchemaMetadata{
		Name:         schema.Name,
		Schema:       schema,
		RegisteredAt: time.Now(),
	}
	return nil
}

// Get retrieves a schema by name.
func (sr *SchemaRegistry) Get(name string) (*core.ModelSchema, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	metadata, exists := sr.schemas[name]
	if !exists {
		return nil, fmt.Errorf("schema %q is not registered", name)
	}
	return metadata.Schema, nil
}

// GetMetadata returns a copy of the metadata for a schema.
func (sr *SchemaRegistry) GetMetadata(name string) (*SchemaMetadata, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	metadata, exists := sr.schemas[name]
	if !exists {
		return nil, fmt.Errorf("schema %q is not registered", name)
	}
	cp := *metadata
	return &cp, nil
}

// MarkReconciled records a successful reconciliation. stmt is nil when the
// live structure already matched.
func (sr *SchemaRegistry) MarkReconciled(name string, stmt *reconcile.Statement) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	metadata, exists := sr.schemas[name]
	if !exists {
		return fmt.Errorf("schema %q is not registered", name)
	}
	now := time.Now()
	metadata.ReconciledAt = &now
	if stmt != nil {
		metadata.LastStatement = stmt
	}
	return nil
}

// Alter applies fn to an unfrozen copy of a registered schema, validates
// and freezes the copy, and records it in place of the original. The
// original is left untouched when fn or validation fails. The altered schema
// is unreconciled until the next MarkReconciled.
func (sr *SchemaRegistry) Alter(name string, fn func(*core.ModelSchema) error) (*core.ModelSchema, error) {
	previous, err := sr.Get(name)
	if err != nil {
		return nil, err
	}
	altered, err := Derive(previous, fn)
	if err != nil {
		return nil, err
	}
	if err := sr.Swap(previous, altered); err != nil {
		return nil, err
	}
	return altered, nil
}

// Derive applies fn to an unfrozen copy of schema and returns the copy,
// validated and frozen. schema itself is not modified.
func Derive(schema *core.ModelSchema, fn func(*core.ModelSchema) error) (*core.ModelSchema, error) {
	altered := schema.Clone()
	if err := fn(altered); err != nil {
		return nil, err
	}
	if altered.Name != schema.Name {
		return nil, &core.SchemaError{Schema: schema.Name, Message: "alter cannot rename a schema"}
	}
	if err := altered.Freeze(); err != nil {
		return nil, err
	}
	return altered, nil
}

// Swap records altered in place of previous. It fails when the registered
// schema is no longer previous, so concurrent alterations cannot overwrite
// each other.
func (sr *SchemaRegistry) Swap(previous, altered *core.ModelSchema) error {
	if previous == nil || altered == nil {
		return fmt.Errorf("schema cannot be nil")
	}
	if previous.Name != altered.Name {
		return &core.SchemaError{Schema: previous.Name, Message: "alter cannot rename a schema"}
	}
	if !altered.Frozen() {
		if err := altered.Freeze(); err != nil {
			return err
		}
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	metadata, exists := sr.schemas[previous.Name]
	if !exists {
		return fmt.Errorf("schema %q is not registered", previous.Name)
	}
	if metadata.Schema != previous {
		return fmt.Errorf("schema %q was altered concurrently", previous.Name)
	}
	sr.schemas[previous.Name] = &SchemaMetadata{
		Name:         previous.Name,
		Schema:       altered,
		RegisteredAt: metadata.RegisteredAt,
	}
	return nil
}

// Unregister removes a schema from the registry.
func (sr *SchemaRegistry) Unregister(name string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if _, exists := sr.schemas[name]; !exists {
		return fmt.Errorf("schema %q is not registered", name)
	}
	delete(sr.schemas, name)
	return nil
}

// List returns the registered schema names in sorted order.
func (sr *SchemaRegistry) List() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
