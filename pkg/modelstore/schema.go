package modelstore

import (
	"github.com/rzpsarthak13/modelstore/internal/core"
)

// Schema declares the columns and indexes of a model.
// A schema is frozen when it is registered and cannot change afterwards.
type Schema = core.ModelSchema

// Column describes a single field of a model.
type Column = core.Column

// ColumnKind is the semantic type of a column.
type ColumnKind = core.ColumnKind

// Index declares a secondary index.
type Index = core.Index

// IndexKind classifies an index.
type IndexKind = core.IndexKind

// Row is a record keyed by column name.
type Row = core.Row

// ValueTransform converts a column value to and from its stored form.
type ValueTransform = core.ValueTransform

// CompositeCodec splits a composite value into part columns and joins them back.
type CompositeCodec = core.CompositeCodec

// PrefixedComposite stores a map value as part columns named Prefix+key.
type PrefixedComposite = core.PrefixedComposite

const (
	KindInteger       = core.KindInteger
	KindString        = core.KindString
	KindText          = core.KindText
	KindDecimal       = core.KindDecimal
	KindFloat         = core.KindFloat
	KindBoolean       = core.KindBoolean
	KindDate          = core.KindDate
	KindDateTime      = core.KindDateTime
	KindTime          = core.KindTime
	KindEnum          = core.KindEnum
	KindJSON          = core.KindJSON
	KindList          = core.KindList
	KindAutoIncrement = core.KindAutoIncrement
	KindForeignKey    = core.KindForeignKey
	KindComposite     = core.KindComposite
)

const (
	IndexUnique = core.IndexUnique
	IndexPlain  = core.IndexPlain
)

// NewSchema creates an empty schema. Add columns with AddColumn; an
// autoincrement column becomes the unique identifier.
//
// Example:
//
//	s := modelstore.NewSchema("people")
//	s.AddColumn(modelstore.Column{Name: "id", Kind: modelstore.KindAutoIncrement, Unsigned: true})
//	s.AddColumn(modelstore.Column{Name: "Name", Kind: modelstore.KindString, Length: 60})
//	people, err := client.Register(s)
func NewSchema(name string) *Schema {
	return core.NewModelSchema(name)
}

var (
	// ErrRecordNotFound matches lookups of identifiers with no record.
	ErrRecordNotFound = core.ErrRecordNotFound

	// ErrSchema matches invalid schemas, unknown columns and refused
	// structural changes.
	ErrSchema = core.ErrSchema

	// ErrConsistencyValidation matches saves rejected by validators.
	ErrConsistencyValidation = core.ErrConsistencyValidation

	// ErrBatchUpdateNotPossible is returned by an unfiltered batch update on
	// a backend without a bulk update path.
	ErrBatchUpdateNotPossible = core.ErrBatchUpdateNotPossible

	// ErrRecordDeleted is returned on access to a deleted entity.
	ErrRecordDeleted = core.ErrRecordDeleted
)

// RecordNotFoundError reports that no record exists for an identifier.
type RecordNotFoundError = core.RecordNotFoundError

// SchemaError reports an invalid schema or a refused structural change.
type SchemaError = core.SchemaError

// ConsistencyValidationError lists the validator failures of a save.
type ConsistencyValidationError = core.ConsistencyValidationError
