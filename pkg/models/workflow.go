package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// VariableKind is the declared type of a template variable.
type VariableKind string

const (
	KindString  VariableKind = "string"
	KindNumber  VariableKind = "number"
	KindBoolean VariableKind = "boolean"
)

// Valid reports whether k is one of the known kinds.
func (k VariableKind) Valid() bool {
	switch k {
	case KindString, KindNumber, KindBoolean:
		return true
	}
	return false
}

// Value is a template variable value tagged with its kind.
type Value struct {
	Kind VariableKind
	Str  string
	Num  float64
	Bool bool
}

func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func BooleanValue(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

// String returns the literal form substituted into a template body.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// Truthy decides conditional blocks: true booleans, non-zero numbers and
// non-empty strings.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNumber:
		return v.Num != 0
	case KindBoolean:
		return v.Bool
	default:
		return v.Str != ""
	}
}

// Interface returns the value as a plain Go value.
func (v Value) Interface() any {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBoolean:
		return v.Bool
	default:
		return v.Str
	}
}

// MarshalJSON encodes the value as its native JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// CoerceValue converts raw into a Value of the given kind. Strings are
// accepted for every kind since form and query inputs arrive as text.
func CoerceValue(kind VariableKind, raw any) (Value, error) {
	switch kind {
	case KindString:
		switch r := raw.(type) {
		case string:
			return StringValue(r), nil
		case bool:
			return StringValue(strconv.FormatBool(r)), nil
		case float64:
			return StringValue(strconv.FormatFloat(r, 'f', -1, 64)), nil
		case int:
			return StringValue(strconv.Itoa(r)), nil
		}
	case KindNumber:
		switch r := raw.(type) {
		case float64:
			return NumberValue(r), nil
		case float32:
			return NumberValue(float64(r)), nil
		case int:
			return NumberValue(float64(r)), nil
		case int64:
			return NumberValue(float64(r)), nil
		case json.Number:
			f, err := r.Float64()
			if err == nil {
				return NumberValue(f), nil
			}
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(r), 64)
			if err == nil {
				return NumberValue(f), nil
			}
		}
	case KindBoolean:
		switch r := raw.(type) {
		case bool:
			return BooleanValue(r), nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(r))
			if err == nil {
				return BooleanValue(b), nil
			}
		}
	default:
		return Value{}, fmt.Errorf("unknown variable kind %q", kind)
	}
	return Value{}, fmt.Errorf("cannot use %v (%T) as %s", raw, raw, kind)
}

// WorkflowVariable declares one parameter of a template.
type WorkflowVariable struct {
	Name        string       `json:"name"`
	Kind        VariableKind `json:"type"`
	Description string       `json:"description,omitempty"`
	Required    bool         `json:"required"`
	Default     *Value       `json:"default,omitempty"`
}

// WorkflowTemplate is a named, parameterised workflow body.
type WorkflowTemplate struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Type        string             `json:"type"`
	Variables   []WorkflowVariable `json:"variables"`
	Body        string             `json:"content"`
}

// Variable looks up a declared variable by name.
func (t *WorkflowTemplate) Variable(name string) (WorkflowVariable, bool) {
	for _, v := range t.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return WorkflowVariable{}, false
}
