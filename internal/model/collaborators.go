package model

import "fmt"

// Validator is a rule checked against one column before an entity is saved.
type Validator interface {
	// Test reports whether value, the column's current attribute value, is acceptable.
	Test(value any, e *Entity) bool

	// DefaultFailureMessage describes a failed test.
	DefaultFailureMessage() string
}

// Rule adapts a function to Validator.
type Rule struct {
	Message string
	Check   func(value any, e *Entity) bool
}

// Test calls r.Check.
func (r Rule) Test(value any, e *Entity) bool { return r.Check(value, e) }

// DefaultFailureMessage returns r.Message.
func (r Rule) DefaultFailureMessage() string { return r.Message }

// Required fails for nil and empty-string values.
func Required() Validator {
	return Rule{
		Message: "is required",
		Check: func(value any, _ *Entity) bool {
			if s, ok := value.(string); ok {
				return s != ""
			}
			return value != nil
		},
	}
}

// Decorator renders an attribute value for display.
type Decorator interface {
	Decorate(e *Entity, value any) string
}

// DecoratorFunc adapts a function to Decorator.
type DecoratorFunc func(e *Entity, value any) string

// Decorate calls f.
func (f DecoratorFunc) Decorate(e *Entity, value any) string { return f(e, value) }

func defaultDisplay(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}
