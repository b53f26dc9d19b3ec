package schema

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	"github.com/rzpsarthak13/modelstore/internal/core"
)

// Translator converts storage rows to and from key-value records.
// Records are JSON, optionally snappy-compressed.
type Translator struct {
	mapper    *TypeMapper
	keyFormat string
	compress  bool
}

// NewTranslator creates a translator producing keys "{namespace}:{table}:{id}".
func NewTranslator(compress bool) *Translator {
	return &Translator{
		mapper:    NewTypeMapper(),
		keyFormat: "%s:%s:%d",
		compress:  compress,
	}
}

// Key builds the record key for a row identifier.
func (t *Translator) Key(namespace string, schema *core.ModelSchema, id int64) string {
	return fmt.Sprintf(t.keyFormat, namespace, schema.Name, id)
}

// ToKV serializes a storage row.
func (t *Translator) ToKV(schema *core.ModelSchema, record core.Row) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("record cannot be nil")
	}
	kvRecord := make(map[string]any, len(record))
	for _, col := range schema.StorageColumns() {
		value, ok := record[col.Name]
		if !ok {
			continue
		}
		n, err := t.mapper.Normalize(col, value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert value for column '%s': %w", col.Name, err)
		}
		kvRecord[col.Name] = n
	}

	value, err := json.Marshal(kvRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record to JSON: %w", err)
	}
	if t.compress {
		value = snappy.Encode(nil, value)
	}
	return value, nil
}

// FromKV deserializes a record back into a canonical storage row.
// Columns missing from the record read as NULL.
func (t *Translator) FromKV(schema *core.ModelSchema, value []byte) (core.Row, error) {
	if value == nil {
		return nil, fmt.Errorf("value cannot be nil")
	}
	if t.compress {
		decoded, err := snappy.Decode(nil, value)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress record: %w", err)
		}
		value = decoded
	}

	var kvRecord map[string]any
	if err := json.Unmarshal(value, &kvRecord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	record := make(core.Row, len(schema.StorageColumns()))
	for _, col := range schema.StorageColumns() {
		raw, ok := kvRecord[col.Name]
		if !ok || raw == nil {
			record[col.Name] = nil
			continue
		}
		n, err := t.mapper.Normalize(col, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column '%s': %w", col.Name, err)
		}
		record[col.Name] = n
	}
	return record, nil
}
