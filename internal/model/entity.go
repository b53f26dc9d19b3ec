package model

import (
	"context"
	"maps"
	"slices"

	"github.com/rzpsarthak13/modelstore/internal/core"
)

// State is the lifecycle stage of an entity.
type State int

const (
	// StateNew entities exist only in memory and have no identifier.
	StateNew State = iota
	// StatePersisted entities have an identifier assigned by their repository.
	StatePersisted
	// StateDeleted is terminal: attribute access fails.
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StatePersisted:
		return "persisted"
	case StateDeleted:
		return "deleted"
	}
	return "unknown"
}

// Entity is one record of a repository's schema. Attribute values are kept
// at model level, composite columns whole, in their stored form: the column
// transform is applied on Set and reversed on Get.
//
// Entities are not safe for concurrent use.
type Entity struct {
	repo   *Repository
	state  State
	id     int64
	values core.Row
	loaded core.Row // storage row as last read or written
	dirty  map[string]struct{}
}

func newEntity(repo *Repository) *Entity {
	return &Entity{
		repo:   repo,
		values: repo.schema.Defaults(),
		dirty:  make(map[string]struct{}),
	}
}

// Repository returns the repository the entity belongs to.
func (e *Entity) Repository() *Repository { return e.repo }

// ID returns the unique identifier, zero while the entity is new.
func (e *Entity) ID() int64 { return e.id }

// State returns the lifecycle stage.
func (e *Entity) State() State { return e.state }

// IsNew reports whether the entity has never been saved.
func (e *Entity) IsNew() bool { return e.state == StateNew }

// IsDeleted reports whether the entity was deleted.
func (e *Entity) IsDeleted() bool { return e.state == StateDeleted }

// IsDirty reports whether column has unsaved changes.
func (e *Entity) IsDirty(column string) bool {
	_, ok := e.dirty[column]
	return ok
}

// DirtyColumns returns the columns with unsaved changes in schema order.
func (e *Entity) DirtyColumns() []string {
	var out []string
	for _, c := range e.repo.schema.Columns() {
		if e.IsDirty(c.Name) {
			out = append(out, c.Name)
		}
	}
	return out
}

func (e *Entity) column(name string) (core.Column, error) {
	if e.state == StateDeleted {
		return core.Column{}, core.ErrRecordDeleted
	}
	col, ok := e.repo.schema.Column(name)
	if !ok {
		return core.Column{}, &core.SchemaError{Schema: e.repo.schema.Name, Column: name, Message: "unknown column"}
	}
	return col, nil
}

// Get returns the attribute value of column.
func (e *Entity) Get(column string) (any, error) {
	col, err := e.column(column)
	if err != nil {
		return nil, err
	}
	v := e.values[column]
	if col.Transform != nil && v != nil {
		return col.Transform.FromStorage(v)
	}
	return v, nil
}

// Set assigns the attribute value of column and marks it dirty. The unique
// identifier cannot be set.
func (e *Entity) Set(column string, value any) error {
	col, err := e.column(column)
	if err != nil {
		return err
	}
	if col.Name == e.repo.schema.UniqueIdentifier {
		return &core.SchemaError{Schema: e.repo.schema.Name, Column: column, Message: "unique identifier is assigned by the repository"}
	}
	stored, err := toStorage(col, value)
	if err != nil {
		return &core.SchemaError{Schema: e.repo.schema.Name, Column: column, Message: "transform failed", Cause: err}
	}
	e.values[column] = stored
	e.dirty[column] = struct{}{}
	return nil
}

func toStorage(col core.Column, value any) (any, error) {
	if col.Transform == nil || value == nil {
		return value, nil
	}
	return col.Transform.ToStorage(value)
}

// Values returns every attribute value, transforms reversed.
func (e *Entity) Values() (core.Row, error) {
	if e.state == StateDeleted {
		return nil, core.ErrRecordDeleted
	}
	out := make(core.Row, len(e.values))
	for _, c := range e.repo.schema.Columns() {
		v, err := e.Get(c.Name)
		if err != nil {
			return nil, err
		}
		out[c.Name] = v
	}
	return out, nil
}

// Display renders column for presentation with the decorator registered on
// the repository, or fmt formatting when there is none.
func (e *Entity) Display(column string) (string, error) {
	v, err := e.Get(column)
	if err != nil {
		return "", err
	}
	if d, ok := e.repo.decorators[column]; ok {
		return d.Decorate(e, v), nil
	}
	return defaultDisplay(v), nil
}

// Save persists the entity through its repository.
func (e *Entity) Save(ctx context.Context) error {
	_, err := e.repo.Save(ctx, e)
	return err
}

// Reload discards unsaved changes and reads every attribute again.
func (e *Entity) Reload(ctx context.Context) error {
	return e.repo.Reload(ctx, e)
}

// Delete removes the entity through its repository.
func (e *Entity) Delete(ctx context.Context) error {
	return e.repo.Delete(ctx, e)
}

// load replaces the entity's state with a storage row.
func (e *Entity) load(stored core.Row, values core.Row) {
	e.loaded = stored
	e.values = values
	e.id, _ = stored.ID(e.repo.schema.UniqueIdentifier)
	e.state = StatePersisted
	clear(e.dirty)
}

func (e *Entity) pendingColumns() []string {
	if e.state == StateNew {
		var out []string
		for _, c := range e.repo.schema.Columns() {
			if c.Name != e.repo.schema.UniqueIdentifier {
				out = append(out, c.Name)
			}
		}
		return out
	}
	return slices.Sorted(maps.Keys(e.dirty))
}
