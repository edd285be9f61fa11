// Package engine evaluates rules against webhook payloads and resolves
// placeholder templates in action arguments.
package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TimeEntryContext is an immutable typed view over one webhook
// payload. When the payload nests the entry under "timeEntry", the
// nested object is used; otherwise the payload itself is treated as
// the entry.
type TimeEntryContext struct {
	root  map[string]any
	entry map[string]any
}

// NewTimeEntryContext parses a raw webhook payload. A payload that is
// not a JSON object yields an error.
func NewTimeEntryContext(payload []byte) (*TimeEntryContext, error) {
	var root map[string]any
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	entry := root
	if nested, ok := root["timeEntry"].(map[string]any); ok {
		entry = nested
	}
	return &TimeEntryContext{root: root, entry: entry}, nil
}

// ID returns the time entry's identifier.
func (c *TimeEntryContext) ID() string {
	return stringField(c.entry, "id")
}

// Description returns the entry description, or "" when absent.
func (c *TimeEntryContext) Description() string {
	return stringField(c.entry, "description")
}

// WorkspaceID returns the workspace the entry belongs to. Payloads
// carry it at the top level.
func (c *TimeEntryContext) WorkspaceID() string {
	if v := stringField(c.root, "workspaceId"); v != "" {
		return v
	}
	return stringField(c.entry, "workspaceId")
}

// ProjectID returns the entry's project id, or "" when unset.
func (c *TimeEntryContext) ProjectID() string {
	if v := stringField(c.entry, "projectId"); v != "" {
		return v
	}
	if project, ok := c.entry["project"].(map[string]any); ok {
		return stringField(project, "id")
	}
	return ""
}

// ProjectName returns the project name when the payload embeds it.
func (c *TimeEntryContext) ProjectName() string {
	if project, ok := c.entry["project"].(map[string]any); ok {
		return stringField(project, "name")
	}
	return ""
}

// ClientID returns the client id from the entry or its embedded
// project, or "" when unset.
func (c *TimeEntryContext) ClientID() string {
	if v := stringField(c.entry, "clientId"); v != "" {
		return v
	}
	if project, ok := c.entry["project"].(map[string]any); ok {
		if v := stringField(project, "clientId"); v != "" {
			return v
		}
	}
	if client, ok := c.entry["client"].(map[string]any); ok {
		return stringField(client, "id")
	}
	return ""
}

// ClientName returns the client name when the payload embeds it.
func (c *TimeEntryContext) ClientName() string {
	if v := stringField(c.entry, "clientName"); v != "" {
		return v
	}
	if project, ok := c.entry["project"].(map[string]any); ok {
		if v := stringField(project, "clientName"); v != "" {
			return v
		}
	}
	if client, ok := c.entry["client"].(map[string]any); ok {
		return stringField(client, "name")
	}
	return ""
}

// UserID returns the acting user's id.
func (c *TimeEntryContext) UserID() string {
	if v := stringField(c.root, "userId"); v != "" {
		return v
	}
	return stringField(c.entry, "userId")
}

// TaskID returns the entry's task id, or "" when unset.
func (c *TimeEntryContext) TaskID() string {
	return stringField(c.entry, "taskId")
}

// TagIDs returns the entry's tag ids, never nil.
func (c *TimeEntryContext) TagIDs() []string {
	raw, ok := c.entry["tagIds"].([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// HasTag reports whether the entry carries the given tag id.
func (c *TimeEntryContext) HasTag(tagID string) bool {
	raw, ok := c.entry["tagIds"].([]any)
	if !ok {
		return false
	}
	for _, v := range raw {
		if s, ok := v.(string); ok && s == tagID {
			return true
		}
	}
	return false
}

// Billable reports whether the entry is billable.
func (c *TimeEntryContext) Billable() bool {
	b, ok := c.entry["billable"].(bool)
	return ok && b
}

// Duration returns the entry's duration string (ISO-8601 in the wire
// format), or "" when absent.
func (c *TimeEntryContext) Duration() string {
	if v := stringField(c.entry, "duration"); v != "" {
		return v
	}
	if interval, ok := c.entry["timeInterval"].(map[string]any); ok {
		return stringField(interval, "duration")
	}
	return ""
}

// Facts returns the entry payload as a map for expression evaluation.
func (c *TimeEntryContext) Facts() map[string]any {
	return map[string]any{"timeEntry": c.entry}
}

// Lookup resolves a dotted path against the entry payload and renders
// the value as a string. The second return reports whether the path
// resolved to a non-null value.
func (c *TimeEntryContext) Lookup(path string) (string, bool) {
	return lookupPath(c.entry, path)
}

func lookupPath(node map[string]any, path string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(path), ".")
	var current any = node
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = obj[part]
		if !ok {
			return "", false
		}
	}
	return renderValue(current)
}

// renderValue converts a decoded JSON value to its string form.
// Objects and arrays render as compact JSON, matching how templates
// embed them in request bodies.
func renderValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	}
}

func stringField(node map[string]any, key string) string {
	if node == nil {
		return ""
	}
	s, _ := node[key].(string)
	return s
}
