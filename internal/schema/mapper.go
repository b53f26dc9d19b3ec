package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rzpsarthak13/modelstore/internal/core"
)

// Storage formats for temporal columns.
const (
	DateFormat     = "2006-01-02"
	DateTimeFormat = "2006-01-02 15:04:05"
	TimeFormat     = "15:04:05"
)

// TypeMapper converts column values between three forms: the caller's Go
// value, the canonical in-memory form every backend returns, and the value
// handed to a database/sql driver.
//
// Canonical forms: int64 for integer, auto-increment and foreign key columns;
// string for string, text, enum and time; float64 for decimal and float; bool;
// time.Time (UTC) for date and datetime; decoded JSON for json; []string for list.
type TypeMapper struct{}

// NewTypeMapper creates a new type mapper.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{}
}

// Normalize converts value to the canonical form for col.
func (tm *TypeMapper) Normalize(col core.Column, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if valuer, ok := value.(driver.Valuer); ok {
		v, err := valuer.Value()
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		value = v
	}

	switch col.Kind {
	case core.KindInteger, core.KindAutoIncrement, core.KindForeignKey:
		return tm.toInt64(value)
	case core.KindString, core.KindText:
		return tm.toString(value)
	case core.KindEnum:
		s, err := tm.toString(value)
		if err != nil {
			return nil, err
		}
		for _, allowed := range col.Values {
			if allowed == s {
				return s, nil
			}
		}
		return nil, fmt.Errorf("value %q is not one of %v", s, col.Values)
	case core.KindDecimal:
		f, err := tm.toFloat64(value)
		if err != nil {
			return nil, err
		}
		scale := col.Scale
		if col.Precision == 0 && scale == 0 {
			scale = 2
		}
		pow := math.Pow(10, float64(scale))
		return math.Round(f*pow) / pow, nil
	case core.KindFloat:
		return tm.toFloat64(value)
	case core.KindBoolean:
		return tm.toBool(value)
	case core.KindDate:
		t, err := tm.toTime(value)
		if err != nil {
			return nil, err
		}
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case core.KindDateTime:
		t, err := tm.toTime(value)
		if err != nil {
			return nil, err
		}
		return t.UTC().Truncate(time.Second), nil
	case core.KindTime:
		if t, ok := value.(time.Time); ok {
			return t.Format(TimeFormat), nil
		}
		return tm.toString(value)
	case core.KindJSON:
		return tm.toJSON(value)
	case core.KindList:
		return tm.toList(value)
	case core.KindComposite:
		return nil, fmt.Errorf("composite column %q has no single stored value", col.Name)
	}
	return value, nil
}

// ToDriver converts a canonical value into a database/sql argument.
func (tm *TypeMapper) ToDriver(col core.Column, value any) (any, error) {
	v, err := tm.Normalize(col, value)
	if err != nil || v == nil {
		return v, err
	}
	switch col.Kind {
	case core.KindBoolean:
		if v.(bool) {
			return int64(1), nil
		}
		return int64(0), nil
	case core.KindDate:
		return v.(time.Time).Format(DateFormat), nil
	case core.KindDateTime:
		return v.(time.Time).Format(DateTimeFormat), nil
	case core.KindJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot marshal JSON for column %q: %w", col.Name, err)
		}
		return string(b), nil
	case core.KindList:
		return strings.Join(v.([]string), ","), nil
	}
	return v, nil
}

// FromDriver converts a scanned database value into canonical form.
func (tm *TypeMapper) FromDriver(col core.Column, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	switch col.Kind {
	case core.KindJSON:
		if s, ok := value.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err != nil {
				return nil, fmt.Errorf("cannot parse JSON for column %q: %w", col.Name, err)
			}
			return decoded, nil
		}
	case core.KindList:
		if s, ok := value.(string); ok {
			if s == "" {
				return []string{}, nil
			}
			return strings.Split(s, ","), nil
		}
	case core.KindEnum:
		return tm.toString(value)
	}
	return tm.Normalize(col, value)
}

func (tm *TypeMapper) toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return tm.toInt64(string(v))
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to int64: %w", err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", value)
	}
}

func (tm *TypeMapper) toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case []byte:
		return tm.toFloat64(string(v))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to float64: %w", err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}

func (tm *TypeMapper) toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float32, float64:
		return fmt.Sprintf("%g", v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.UTC().Format(DateTimeFormat), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cannot convert %T to string: %w", value, err)
		}
		return string(b), nil
	}
}

func (tm *TypeMapper) toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case []byte:
		return tm.toTime(string(v))
	case string:
		formats := []string{
			time.RFC3339Nano,
			DateTimeFormat,
			"2006-01-02T15:04:05",
			"2006-01-02T15:04:05Z",
			DateFormat,
		}
		for _, format := range formats {
			if t, err := time.ParseInLocation(format, v, time.UTC); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse time string: %s", v)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", value)
	}
}

func (tm *TypeMapper) toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int, int8, int16, int32, int64:
		return reflect.ValueOf(v).Int() != 0, nil
	case uint, uint8, uint16, uint32, uint64:
		return reflect.ValueOf(v).Uint() != 0, nil
	case float64:
		return v != 0, nil
	case []byte:
		return tm.toBool(string(v))
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				return i != 0, nil
			}
			return false, fmt.Errorf("cannot convert string to bool: %w", err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", value)
	}
}

// toJSON round-trips the value through encoding/json so maps, slices and
// numbers take the shapes json.Unmarshal produces.
func (tm *TypeMapper) toJSON(value any) (any, error) {
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cannot marshal %T to JSON: %w", v, err)
		}
		raw = b
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("cannot parse JSON: %w", err)
	}
	return decoded, nil
}

func (tm *TypeMapper) toList(value any) ([]string, error) {
	var out []string
	switch v := value.(type) {
	case []string:
		out = append([]string{}, v...)
	case []byte:
		return tm.toList(string(v))
	case string:
		if v == "" {
			return []string{}, nil
		}
		return strings.Split(v, ","), nil
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, fmt.Errorf("cannot convert %T to list", value)
		}
		out = make([]string, rv.Len())
		for i := range rv.Len() {
			s, err := tm.toString(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
	}
	for _, s := range out {
		if strings.Contains(s, ",") {
			return nil, fmt.Errorf("list member %q contains a comma", s)
		}
	}
	return out, nil
}
