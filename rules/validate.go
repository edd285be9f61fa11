package rules

import (
	"fmt"
	"strings"
)

// ValidationError describes why a rule was rejected at save time.
// Callers report it to the client; invalid rules are never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s: %s", e.Field, e.Reason)
}

// ExpressionChecker compiles an expression condition so save-time
// validation can reject ones that would fail at evaluation time.
type ExpressionChecker interface {
	CheckExpression(expr string) error
}

var conditionTypes = map[string]bool{
	ConditionDescriptionContains: true,
	ConditionDescriptionEquals:   true,
	ConditionHasTag:              true,
	ConditionProjectIDEquals:     true,
	ConditionProjectNameContains: true,
	ConditionClientIDEquals:      true,
	ConditionClientNameContains:  true,
	ConditionIsBillable:          true,
	ConditionExpression:          true,
}

var actionTypes = map[string]bool{
	ActionAddTag:             true,
	ActionRemoveTag:          true,
	ActionSetDescription:     true,
	ActionAppendDescription:  true,
	ActionPrependDescription: true,
	ActionSetBillable:        true,
	ActionSetProjectByID:     true,
	ActionSetProjectByName:   true,
	ActionSetTaskByID:        true,
	ActionSetTaskByName:      true,
	ActionOpenAPICall:        true,
}

const (
	maxNameLength  = 100
	maxValueLength = 1000
	maxArgLength   = 10000
)

// Validate checks a rule for correctness before it is persisted.
// checker may be nil, in which case expression conditions are only
// checked for presence.
func Validate(r *Rule, checker ExpressionChecker) error {
	if r == nil {
		return &ValidationError{Field: "rule", Reason: "must not be null"}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(r.Name) > maxNameLength {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("must not exceed %d characters", maxNameLength)}
	}
	if strings.TrimSpace(r.TriggerEvent) == "" {
		return &ValidationError{Field: "triggerEvent", Reason: "must not be empty"}
	}
	if r.Combinator != CombinatorAnd && r.Combinator != CombinatorOr {
		return &ValidationError{Field: "combinator", Reason: `must be "AND" or "OR"`}
	}

	for i, c := range r.Conditions {
		field := fmt.Sprintf("conditions[%d]", i)
		if strings.TrimSpace(c.Type) == "" {
			return &ValidationError{Field: field + ".type", Reason: "must not be empty"}
		}
		if !conditionTypes[c.Type] {
			return &ValidationError{Field: field + ".type", Reason: fmt.Sprintf("unknown condition type %q", c.Type)}
		}
		if len(c.Value) > maxValueLength {
			return &ValidationError{Field: field + ".value", Reason: fmt.Sprintf("must not exceed %d characters", maxValueLength)}
		}
		if c.Type == ConditionExpression {
			if strings.TrimSpace(c.Value) == "" {
				return &ValidationError{Field: field + ".value", Reason: "expression must not be empty"}
			}
			if checker != nil {
				if err := checker.CheckExpression(c.Value); err != nil {
					return &ValidationError{Field: field + ".value", Reason: err.Error()}
				}
			}
		}
	}

	if len(r.Actions) == 0 {
		return &ValidationError{Field: "actions", Reason: "must contain at least one action"}
	}
	for i, a := range r.Actions {
		field := fmt.Sprintf("actions[%d]", i)
		if strings.TrimSpace(a.Type) == "" {
			return &ValidationError{Field: field + ".type", Reason: "must not be empty"}
		}
		if !actionTypes[a.Type] {
			return &ValidationError{Field: field + ".type", Reason: fmt.Sprintf("unknown action type %q", a.Type)}
		}
		for key, value := range a.Args {
			if strings.Contains(key, "..") || strings.ContainsAny(key, `/\`) {
				return &ValidationError{Field: field + ".args", Reason: fmt.Sprintf("invalid argument key %q", key)}
			}
			if len(value) > maxArgLength {
				return &ValidationError{Field: field + ".args." + key, Reason: fmt.Sprintf("must not exceed %d characters", maxArgLength)}
			}
		}
	}

	return nil
}
