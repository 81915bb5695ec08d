package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ValueKind represents the type of a single record field value
type ValueKind string

const (
	ValueKindString ValueKind = "string"
	ValueKindNumber ValueKind = "number"
	ValueKindBool   ValueKind = "bool"
	ValueKindDate   ValueKind = "date"
	ValueKindNull   ValueKind = "null"
)

// FieldValue is a closed variant holding one typed cell value. Exactly one of
// the payload fields is meaningful, selected by Kind.
type FieldValue struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Date time.Time
}

// NullValue returns the null variant.
func NullValue() FieldValue {
	return FieldValue{Kind: ValueKindNull}
}

// StringValue wraps a string cell.
func StringValue(s string) FieldValue {
	return FieldValue{Kind: ValueKindString, Str: s}
}

// NumberValue wraps a numeric cell.
func NumberValue(f float64) FieldValue {
	return FieldValue{Kind: ValueKindNumber, Num: f}
}

// BoolValue wraps a boolean cell.
func BoolValue(b bool) FieldValue {
	return FieldValue{Kind: ValueKindBool, Bool: b}
}

// DateValue wraps a date cell.
func DateValue(t time.Time) FieldValue {
	return FieldValue{Kind: ValueKindDate, Date: t}
}

// IsNull reports whether the value is the null variant.
func (v FieldValue) IsNull() bool {
	return v.Kind == ValueKindNull || v.Kind == ""
}

// String renders the value for display and for building business keys.
func (v FieldValue) String() string {
	switch v.Kind {
	case ValueKindString:
		return v.Str
	case ValueKindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case ValueKindBool:
		return strconv.FormatBool(v.Bool)
	case ValueKindDate:
		return v.Date.Format(time.RFC3339)
	default:
		return ""
	}
}

// Equal compares two values by kind and payload.
func (v FieldValue) Equal(other FieldValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case ValueKindString:
		return v.Str == other.Str
	case ValueKindNumber:
		return v.Num == other.Num
	case ValueKindBool:
		return v.Bool == other.Bool
	case ValueKindDate:
		return v.Date.Equal(other.Date)
	default:
		return true
	}
}

type fieldValueJSON struct {
	Type  ValueKind `json:"type"`
	Value any       `json:"value,omitempty"`
}

// MarshalJSON encodes the variant as {"type": ..., "value": ...}.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	out := fieldValueJSON{Type: v.Kind}
	if out.Type == "" {
		out.Type = ValueKindNull
	}
	switch v.Kind {
	case ValueKindString:
		out.Value = v.Str
	case ValueKindNumber:
		out.Value = v.Num
	case ValueKindBool:
		out.Value = v.Bool
	case ValueKindDate:
		out.Value = v.Date.Format(time.RFC3339)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the {"type": ..., "value": ...} form.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw fieldValueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Type {
	case ValueKindString:
		s, ok := raw.Value.(string)
		if !ok {
			return fmt.Errorf("string value expected, got %T", raw.Value)
		}
		*v = StringValue(s)
	case ValueKindNumber:
		f, ok := raw.Value.(float64)
		if !ok {
			return fmt.Errorf("number value expected, got %T", raw.Value)
		}
		*v = NumberValue(f)
	case ValueKindBool:
		b, ok := raw.Value.(bool)
		if !ok {
			return fmt.Errorf("bool value expected, got %T", raw.Value)
		}
		*v = BoolValue(b)
	case ValueKindDate:
		s, ok := raw.Value.(string)
		if !ok {
			return fmt.Errorf("date value expected, got %T", raw.Value)
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid date value %q: %w", s, err)
		}
		*v = DateValue(ts)
	case ValueKindNull, "":
		*v = NullValue()
	default:
		return fmt.Errorf("unknown value kind %q", raw.Type)
	}
	return nil
}

// Field pairs a field name with its value.
type Field struct {
	Name  string
	Value FieldValue
}

// Record is an ordered mapping of field name to value. Order is preserved so
// that serialized rows round-trip byte for byte, which keeps re-validation
// deterministic.
type Record []Field

// Get returns the value for a field name.
func (r Record) Get(name string) (FieldValue, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return FieldValue{}, false
}

// Set replaces the value for a field name, appending when absent.
func (r Record) Set(name string, value FieldValue) Record {
	for i, f := range r {
		if f.Name == name {
			out := r.Clone()
			out[i].Value = value
			return out
		}
	}
	out := r.Clone()
	return append(out, Field{Name: name, Value: value})
}

// Clone returns a copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	copy(out, r)
	return out
}

// Names returns field names in declaration order.
func (r Record) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

type fieldJSON struct {
	Field string    `json:"field"`
	Type  ValueKind `json:"type"`
	Value any       `json:"value,omitempty"`
}

// MarshalJSON encodes the record as an ordered array of field objects.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make([]fieldJSON, len(r))
	for i, f := range r {
		encoded, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		var raw fieldValueJSON
		if err := json.Unmarshal(encoded, &raw); err != nil {
			return nil, err
		}
		out[i] = fieldJSON{Field: f.Name, Type: raw.Type, Value: raw.Value}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the ordered array form.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw []fieldJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Record, 0, len(raw))
	for _, entry := range raw {
		encoded, err := json.Marshal(fieldValueJSON{Type: entry.Type, Value: entry.Value})
		if err != nil {
			return err
		}
		var value FieldValue
		if err := json.Unmarshal(encoded, &value); err != nil {
			return fmt.Errorf("field %s: %w", entry.Field, err)
		}
		out = append(out, Field{Name: entry.Field, Value: value})
	}
	*r = out
	return nil
}
