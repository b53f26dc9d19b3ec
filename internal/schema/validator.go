package schema

import (
	"github.com/rzpsarthak13/modelstore/internal/core"
)

// SchemaValidator validates storage rows against a schema.
type SchemaValidator struct {
	schema *core.ModelSchema
	mapper *TypeMapper
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(schema *core.ModelSchema, mapper *TypeMapper) *SchemaValidator {
	if mapper == nil {
		mapper = NewTypeMapper()
	}
	return &SchemaValidator{schema: schema, mapper: mapper}
}

// ValidateRecord checks a complete storage row before insert: every stored
// column other than the unique identifier must be present, non-nullable
// columns must be set, and values must convert to the column kind.
func (sv *SchemaValidator) ValidateRecord(record core.Row) []core.ValidationFailure {
	var failures []core.ValidationFailure
	for _, col := range sv.schema.StorageColumns() {
		if col.Name == sv.schema.UniqueIdentifier {
			continue
		}
		value, exists := record[col.Name]
		if !exists || value == nil {
			if !col.Nullable {
				failures = append(failures, core.ValidationFailure{Column: col.Name, Message: "cannot be NULL"})
			}
			continue
		}
		if _, err := sv.mapper.Normalize(col, value); err != nil {
			failures = append(failures, core.ValidationFailure{Column: col.Name, Message: "type mismatch: " + err.Error()})
		}
	}
	return failures
}

// ValidatePartialRecord checks only the columns present in record, as for updates.
func (sv *SchemaValidator) ValidatePartialRecord(record core.Row) []core.ValidationFailure {
	var failures []core.ValidationFailure
	for _, col := range sv.schema.StorageColumns() {
		value, exists := record[col.Name]
		if !exists {
			continue
		}
		if col.Name == sv.schema.UniqueIdentifier {
			failures = append(failures, core.ValidationFailure{Column: col.Name, Message: "unique identifier cannot be updated"})
			continue
		}
		if value == nil {
			if !col.Nullable {
				failures = append(failures, core.ValidationFailure{Column: col.Name, Message: "cannot be NULL"})
			}
			continue
		}
		if _, err := sv.mapper.Normalize(col, value); err != nil {
			failures = append(failures, core.ValidationFailure{Column: col.Name, Message: "type mismatch: " + err.Error()})
		}
	}
	return failures
}
