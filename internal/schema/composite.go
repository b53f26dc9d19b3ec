package schema

import (
	"fmt"

	"github.com/rzpsarthak13/modelstore/internal/core"
)

// Flatten converts model-level values into storage-level values: composite
// columns are split into their parts (missing parts become NULL) and every
// value is normalized. Columns absent from values are left out.
func Flatten(s *core.ModelSchema, mapper *TypeMapper, values core.Row) (core.Row, error) {
	out := make(core.Row, len(values))
	for name, v := range values {
		col, ok := s.Column(name)
		if !ok {
			sc, ok := s.StorageColumn(name)
			if !ok {
				return nil, &core.SchemaError{Schema: s.Name, Column: name, Message: "unknown column"}
			}
			n, err := mapper.Normalize(sc, v)
			if err != nil {
				return nil, &core.SchemaError{Schema: s.Name, Column: name, Message: "invalid value", Cause: err}
			}
			out[name] = n
			continue
		}
		if col.Kind != core.KindComposite {
			n, err := mapper.Normalize(col, v)
			if err != nil {
				return nil, &core.SchemaError{Schema: s.Name, Column: name, Message: "invalid value", Cause: err}
			}
			out[name] = n
			continue
		}
		parts, err := col.Composite.Split(v)
		if err != nil {
			return nil, &core.SchemaError{Schema: s.Name, Column: name, Message: "cannot split composite value", Cause: err}
		}
		for _, p := range col.Parts {
			pv, present := parts[p.Name]
			delete(parts, p.Name)
			if !present {
				out[p.Name] = nil
				continue
			}
			n, err := mapper.Normalize(p, pv)
			if err != nil {
				return nil, &core.SchemaError{Schema: s.Name, Column: p.Name, Message: "invalid composite part", Cause: err}
			}
			out[p.Name] = n
		}
		for extra := range parts {
			return nil, &core.SchemaError{Schema: s.Name, Column: name, Message: fmt.Sprintf("composite value has no part column %q", extra)}
		}
	}
	return out, nil
}

// Assemble converts a stored row into model-level values, joining composite
// parts back into their composite column.
func Assemble(s *core.ModelSchema, stored core.Row) (core.Row, error) {
	out := make(core.Row, len(stored))
	for _, col := range s.Columns() {
		if col.Kind != core.KindComposite {
			out[col.Name] = stored[col.Name]
			continue
		}
		parts := make(map[string]any, len(col.Parts))
		for _, p := range col.Parts {
			parts[p.Name] = stored[p.Name]
		}
		v, err := col.Composite.Join(parts)
		if err != nil {
			return nil, &core.SchemaError{Schema: s.Name, Column: col.Name, Message: "cannot join composite value", Cause: err}
		}
		out[col.Name] = v
	}
	return out, nil
}
