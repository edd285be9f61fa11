// Package rules holds the automation rule model and its persistence.
package rules

import "time"

// Combinator joins a rule's conditions.
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// Condition types understood by the evaluator. Anything else evaluates
// to false (fail-closed).
const (
	ConditionDescriptionContains = "descriptionContains"
	ConditionDescriptionEquals   = "descriptionEquals"
	ConditionHasTag              = "hasTag"
	ConditionProjectIDEquals     = "projectIdEquals"
	ConditionProjectNameContains = "projectNameContains"
	ConditionClientIDEquals      = "clientIdEquals"
	ConditionClientNameContains  = "clientNameContains"
	ConditionIsBillable          = "isBillable"
	// ConditionExpression is a CEL boolean expression over the webhook
	// payload, compiled when the rule is saved.
	ConditionExpression = "expression"
)

// Action types understood by the executor.
const (
	ActionAddTag             = "add_tag"
	ActionRemoveTag          = "remove_tag"
	ActionSetDescription     = "set_description"
	ActionAppendDescription  = "append_description"
	ActionPrependDescription = "prepend_description"
	ActionSetBillable        = "set_billable"
	ActionSetProjectByID     = "set_project_by_id"
	ActionSetProjectByName   = "set_project_by_name"
	ActionSetTaskByID        = "set_task_by_id"
	ActionSetTaskByName      = "set_task_by_name"
	ActionOpenAPICall        = "openapi_call"
)

// Rule is a stored automation: when TriggerEvent fires and the
// conditions hold under the combinator, the actions run in order.
// An empty condition list never matches.
type Rule struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Enabled      bool        `json:"enabled"`
	TriggerEvent string      `json:"triggerEvent"`
	Combinator   Combinator  `json:"combinator"`
	Conditions   []Condition `json:"conditions"`
	Actions      []Action    `json:"actions"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Condition is a single predicate over a time-entry context.
type Condition struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Action describes one side effect with string-keyed arguments, e.g.
// {type: "add_tag", args: {"tagName": "meetings"}}.
type Action struct {
	Type string            `json:"type"`
	Args map[string]string `json:"args,omitempty"`
}

// Arg returns the first non-empty named argument.
func (a Action) Arg(names ...string) string {
	for _, n := range names {
		if v, ok := a.Args[n]; ok && v != "" {
			return v
		}
	}
	return ""
}
