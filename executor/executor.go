// Package executor applies rule actions to time entries through the
// external API. Each action runs independently: a failure is recorded
// in its outcome and execution continues with the next action.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/liamcoop/automations/engine"
	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/internal/metrics"
	"github.com/liamcoop/automations/rules"
	"github.com/liamcoop/automations/trackapi"
	"github.com/liamcoop/automations/workspace"
)

const (
	baseRetryDelay = 250 * time.Millisecond
	maxRetryDelay  = 2 * time.Second
	maxRetryAfter  = 5 * time.Second

	// DefaultMaxAttempts bounds retries per API call, first try
	// included.
	DefaultMaxAttempts = 4
)

// Outcome statuses.
const (
	StatusApplied = "applied" // change written to the API
	StatusLogged  = "logged"  // dry run, change logged only
	StatusSkipped = "skipped" // action was a no-op for this entry
	StatusFailed  = "failed"
)

// Outcome reports what happened to one action.
type Outcome struct {
	Action string `json:"action"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// API is the slice of the external client the executor needs.
type API interface {
	UpdateTimeEntry(ctx context.Context, workspaceID, entryID string, patch map[string]any) error
	Get(ctx context.Context, path string) ([]byte, error)
	Post(ctx context.Context, path string, body []byte) ([]byte, error)
}

// TagCreator creates missing tags and publishes them to the metadata
// cache.
type TagCreator interface {
	AddTag(ctx context.Context, workspaceID, name string) (string, error)
}

// Executor runs actions against the API. With applyChanges false it
// runs in dry-run mode: intended changes are logged and no API calls
// are made.
type Executor struct {
	api          API
	tags         TagCreator
	applyChanges bool
	maxAttempts  int
	sleep        func(time.Duration)
}

// New creates an executor. maxAttempts <= 0 falls back to
// DefaultMaxAttempts.
func New(api API, tags TagCreator, applyChanges bool, maxAttempts int) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Executor{
		api:          api,
		tags:         tags,
		applyChanges: applyChanges,
		maxAttempts:  maxAttempts,
		sleep:        time.Sleep,
	}
}

// Execute runs the actions in order against the time entry. Later
// actions observe the local effect of earlier ones, so a rule can set
// a project and then pick one of its tasks by name.
func (e *Executor) Execute(ctx context.Context, workspaceID string, actions []rules.Action, te *engine.TimeEntryContext, snap *workspace.Snapshot) []Outcome {
	state := newEntryState(te)
	outcomes := make([]Outcome, 0, len(actions))

	for _, action := range actions {
		outcome := e.runAction(ctx, workspaceID, action, te, snap, state)
		outcomes = append(outcomes, outcome)
		metrics.RecordActionResult(ctx, action.Type, outcome.Status != StatusFailed)
		if outcome.Status == StatusFailed {
			logger.Warn("action failed",
				"workspace_id", workspaceID,
				"time_entry_id", te.ID(),
				"action", action.Type,
				"detail", outcome.Detail)
		}
	}
	return outcomes
}

func (e *Executor) runAction(ctx context.Context, workspaceID string, action rules.Action, te *engine.TimeEntryContext, snap *workspace.Snapshot, state *entryState) Outcome {
	if action.Type == rules.ActionOpenAPICall {
		return e.runOpenAPICall(ctx, workspaceID, action, te, snap)
	}

	changed, outcome := e.stageChange(ctx, workspaceID, action, te, snap, state)
	if !changed {
		return outcome
	}
	if !e.applyChanges {
		logger.Info("dry run: skipping time entry update",
			"workspace_id", workspaceID,
			"time_entry_id", te.ID(),
			"action", action.Type,
			"detail", outcome.Detail)
		outcome.Status = StatusLogged
		return outcome
	}

	patch := state.patch()
	err := e.withRetry(ctx, false, func() error {
		return e.api.UpdateTimeEntry(ctx, workspaceID, te.ID(), patch)
	})
	if err != nil {
		return failed(action, err)
	}
	outcome.Status = StatusApplied
	return outcome
}

// stageChange mutates state for the action and reports whether an
// update is needed. In dry-run mode actions with API side effects of
// their own (tag creation) stop short of calling out.
func (e *Executor) stageChange(ctx context.Context, workspaceID string, action rules.Action, te *engine.TimeEntryContext, snap *workspace.Snapshot, state *entryState) (bool, Outcome) {
	resolve := func(s string) string { return engine.Resolve(s, te, snap) }

	switch action.Type {
	case rules.ActionAddTag:
		name := resolve(action.Arg("tagName", "name", "value"))
		if name == "" {
			return false, failedDetail(action, "tag name is empty")
		}
		tagID, ok := snap.TagIDByName(name)
		if !ok {
			if !e.applyChanges {
				return false, Outcome{Action: action.Type, Status: StatusLogged,
					Detail: fmt.Sprintf("would create tag %q and add it", name)}
			}
			var err error
			tagID, err = e.tags.AddTag(ctx, workspaceID, name)
			if err != nil {
				return false, failed(action, fmt.Errorf("failed to create tag %q: %w", name, err))
			}
		}
		if !state.addTag(tagID) {
			return false, skipped(action, "tag already present")
		}
		return true, detail(action, "add tag %q", name)

	case rules.ActionRemoveTag:
		name := resolve(action.Arg("tagName", "name", "value"))
		tagID, ok := snap.TagIDByName(name)
		if !ok || !state.removeTag(tagID) {
			return false, skipped(action, "tag not present")
		}
		return true, detail(action, "remove tag %q", name)

	case rules.ActionSetDescription:
		next := resolve(action.Arg("description", "value"))
		if state.description == next {
			return false, skipped(action, "description unchanged")
		}
		state.description = next
		return true, detail(action, "set description to %q", next)

	case rules.ActionAppendDescription:
		suffix := resolve(action.Arg("description", "value"))
		if suffix == "" {
			return false, skipped(action, "nothing to append")
		}
		state.description = joinDescription(state.description, suffix)
		return true, detail(action, "append %q to description", suffix)

	case rules.ActionPrependDescription:
		prefix := resolve(action.Arg("description", "value"))
		if prefix == "" {
			return false, skipped(action, "nothing to prepend")
		}
		state.description = joinDescription(prefix, state.description)
		return true, detail(action, "prepend %q to description", prefix)

	case rules.ActionSetBillable:
		next := strings.EqualFold(action.Arg("billable", "value"), "true")
		if state.billable == next {
			return false, skipped(action, "billable unchanged")
		}
		state.billable = next
		return true, detail(action, "set billable to %t", next)

	case rules.ActionSetProjectByID:
		id := resolve(action.Arg("projectId", "value"))
		if id == "" {
			return false, failedDetail(action, "project id is empty")
		}
		return state.setProject(action, id)

	case rules.ActionSetProjectByName:
		name := resolve(action.Arg("projectName", "value"))
		id, ok := snap.ProjectIDByName(name)
		if !ok {
			return false, failedDetail(action, fmt.Sprintf("no project named %q", name))
		}
		return state.setProject(action, id)

	case rules.ActionSetTaskByID:
		id := resolve(action.Arg("taskId", "value"))
		if id == "" {
			return false, failedDetail(action, "task id is empty")
		}
		return state.setTask(action, id)

	case rules.ActionSetTaskByName:
		if state.projectID == "" {
			return false, failedDetail(action, "time entry has no project")
		}
		name := resolve(action.Arg("taskName", "value"))
		id, ok := snap.TaskIDByName(state.projectID, name)
		if !ok {
			return false, failedDetail(action, fmt.Sprintf("no task named %q in project", name))
		}
		return state.setTask(action, id)

	default:
		return false, failedDetail(action, "unknown action type")
	}
}

func (e *Executor) runOpenAPICall(ctx context.Context, workspaceID string, action rules.Action, te *engine.TimeEntryContext, snap *workspace.Snapshot) Outcome {
	method := strings.ToUpper(action.Arg("method"))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return failedDetail(action, fmt.Sprintf("method %s is not allowed", method))
	}

	path := engine.ResolveForPath(action.Arg("path"), te, snap)
	if !strings.HasPrefix(path, "/workspaces/"+workspaceID+"/") && path != "/workspaces/"+workspaceID {
		return failedDetail(action, "path must target the rule's own workspace")
	}

	body := engine.Resolve(action.Arg("body"), te, snap)

	if !e.applyChanges {
		logger.Info("dry run: skipping api call",
			"workspace_id", workspaceID,
			"time_entry_id", te.ID(),
			"method", method,
			"path", path)
		return Outcome{Action: action.Type, Status: StatusLogged,
			Detail: fmt.Sprintf("would call %s %s", method, path)}
	}

	err := e.withRetry(ctx, method == http.MethodGet, func() error {
		if method == http.MethodGet {
			_, err := e.api.Get(ctx, path)
			return err
		}
		_, err := e.api.Post(ctx, path, []byte(body))
		return err
	})
	if err != nil {
		return failed(action, err)
	}
	return Outcome{Action: action.Type, Status: StatusApplied,
		Detail: fmt.Sprintf("called %s %s", method, path)}
}

// withRetry retries throttled calls, and server errors when the call
// is idempotent. A Retry-After hint overrides the backoff, capped at
// maxRetryAfter.
func (e *Executor) withRetry(ctx context.Context, idempotent bool, call func() error) error {
	for attempt := 1; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		if attempt >= e.maxAttempts || !retryable(err, idempotent) {
			return err
		}
		delay := retryDelay(attempt, err)
		logger.Debug("retrying api call", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.sleep(delay)
	}
}

func retryable(err error, idempotent bool) bool {
	var apiErr *trackapi.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.RateLimited() {
		return true
	}
	return idempotent && apiErr.ServerError()
}

func retryDelay(attempt int, err error) time.Duration {
	var apiErr *trackapi.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		if apiErr.RetryAfter > maxRetryAfter {
			return maxRetryAfter
		}
		return apiErr.RetryAfter
	}
	delay := baseRetryDelay << (attempt - 1)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(50+rand.Intn(101)) * time.Millisecond
	return delay + jitter
}

func joinDescription(head, tail string) string {
	if head == "" {
		return tail
	}
	if tail == "" {
		return head
	}
	return head + " " + tail
}

func detail(action rules.Action, format string, args ...any) Outcome {
	return Outcome{Action: action.Type, Detail: fmt.Sprintf(format, args...)}
}

func skipped(action rules.Action, reason string) Outcome {
	return Outcome{Action: action.Type, Status: StatusSkipped, Detail: reason}
}

func failed(action rules.Action, err error) Outcome {
	return Outcome{Action: action.Type, Status: StatusFailed, Detail: err.Error()}
}

func failedDetail(action rules.Action, reason string) Outcome {
	return Outcome{Action: action.Type, Status: StatusFailed, Detail: reason}
}
