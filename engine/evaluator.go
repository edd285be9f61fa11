package engine

import (
	"strings"

	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/rules"
)

// Evaluator decides whether a rule matches a time-entry context.
// Safe for concurrent use.
type Evaluator struct {
	expressions *ExpressionEnv
}

// NewEvaluator creates an evaluator. The expression environment backs
// the "expression" condition type; pass nil to treat expression
// conditions as non-matching.
func NewEvaluator(expressions *ExpressionEnv) *Evaluator {
	return &Evaluator{expressions: expressions}
}

// Matches evaluates a rule against a context. A disabled rule or one
// with no conditions never matches. AND short-circuits on the first
// failing condition, OR on the first passing one. names may be nil
// when no workspace snapshot is available.
func (e *Evaluator) Matches(rule *rules.Rule, ctx *TimeEntryContext, names NameSource) bool {
	if rule == nil || !rule.Enabled {
		return false
	}
	if len(rule.Conditions) == 0 {
		return false
	}

	isAnd := rule.Combinator != rules.CombinatorOr

	for _, cond := range rule.Conditions {
		matched := e.evaluateCondition(cond, ctx, names)
		if isAnd && !matched {
			return false
		}
		if !isAnd && matched {
			return true
		}
	}

	// AND: every condition passed. OR: none did.
	return isAnd
}

// evaluateCondition never panics: any malformed or unknown condition
// evaluates to false.
func (e *Evaluator) evaluateCondition(cond rules.Condition, ctx *TimeEntryContext, names NameSource) bool {
	if ctx == nil {
		return false
	}
	switch cond.Type {
	case rules.ConditionDescriptionContains:
		return containsFold(ctx.Description(), cond.Value)
	case rules.ConditionDescriptionEquals:
		return cond.Value != "" && ctx.Description() == cond.Value
	case rules.ConditionHasTag:
		return cond.Value != "" && ctx.HasTag(cond.Value)
	case rules.ConditionProjectIDEquals:
		return cond.Value != "" && ctx.ProjectID() == cond.Value
	case rules.ConditionProjectNameContains:
		return containsFold(e.projectName(ctx, names), cond.Value)
	case rules.ConditionClientIDEquals:
		return cond.Value != "" && ctx.ClientID() == cond.Value
	case rules.ConditionClientNameContains:
		return containsFold(e.clientName(ctx, names), cond.Value)
	case rules.ConditionIsBillable:
		return ctx.Billable() == strings.EqualFold(cond.Value, "true")
	case rules.ConditionExpression:
		return e.evaluateExpression(cond.Value, ctx)
	default:
		logger.Warn("unknown condition type", "type", cond.Type)
		return false
	}
}

func (e *Evaluator) evaluateExpression(expr string, ctx *TimeEntryContext) bool {
	if e.expressions == nil {
		logger.Warn("expression condition without expression environment")
		return false
	}
	matched, err := e.expressions.Evaluate(expr, ctx.Facts())
	if err != nil {
		// Evaluation failures count as non-match; sibling rules keep
		// running.
		logger.Warn("expression evaluation failed", "error", err)
		return false
	}
	return matched
}

func (e *Evaluator) projectName(ctx *TimeEntryContext, names NameSource) string {
	if name := ctx.ProjectName(); name != "" {
		return name
	}
	if names != nil {
		if name, ok := names.ProjectName(ctx.ProjectID()); ok {
			return name
		}
	}
	return ""
}

func (e *Evaluator) clientName(ctx *TimeEntryContext, names NameSource) string {
	if name := ctx.ClientName(); name != "" {
		return name
	}
	if names != nil {
		if name, ok := names.ClientName(ctx.ClientID()); ok {
			return name
		}
	}
	return ""
}

// containsFold is a case-insensitive substring check. An empty needle
// matches any haystack, mirroring string containment semantics.
func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
