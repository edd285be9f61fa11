package executor

import (
	"github.com/liamcoop/automations/engine"
	"github.com/liamcoop/automations/rules"
)

// entryState is the executor's working copy of the mutable time entry
// fields. Staged changes accumulate here so each update carries the
// full field set the API expects.
type entryState struct {
	start       string
	end         string
	description string
	billable    bool
	projectID   string
	taskID      string
	tagIDs      []string
}

func newEntryState(te *engine.TimeEntryContext) *entryState {
	start, _ := te.Lookup("timeInterval.start")
	end, _ := te.Lookup("timeInterval.end")
	return &entryState{
		start:       start,
		end:         end,
		description: te.Description(),
		billable:    te.Billable(),
		projectID:   te.ProjectID(),
		taskID:      te.TaskID(),
		tagIDs:      append([]string(nil), te.TagIDs()...),
	}
}

// patch builds the update body. Empty optional fields are omitted so
// the API does not interpret them as explicit clears.
func (s *entryState) patch() map[string]any {
	patch := map[string]any{
		"billable":    s.billable,
		"description": s.description,
		"tagIds":      s.tagIDs,
	}
	if s.start != "" {
		patch["start"] = s.start
	}
	if s.end != "" {
		patch["end"] = s.end
	}
	if s.projectID != "" {
		patch["projectId"] = s.projectID
	}
	if s.taskID != "" {
		patch["taskId"] = s.taskID
	}
	return patch
}

func (s *entryState) addTag(tagID string) bool {
	for _, id := range s.tagIDs {
		if id == tagID {
			return false
		}
	}
	s.tagIDs = append(s.tagIDs, tagID)
	return true
}

func (s *entryState) removeTag(tagID string) bool {
	for i, id := range s.tagIDs {
		if id == tagID {
			s.tagIDs = append(s.tagIDs[:i], s.tagIDs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *entryState) setProject(action rules.Action, projectID string) (bool, Outcome) {
	if s.projectID == projectID {
		return false, skipped(action, "project unchanged")
	}
	s.projectID = projectID
	// A task belongs to one project; switching projects clears it.
	s.taskID = ""
	return true, detail(action, "set project to %s", projectID)
}

func (s *entryState) setTask(action rules.Action, taskID string) (bool, Outcome) {
	if s.taskID == taskID {
		return false, skipped(action, "task unchanged")
	}
	s.taskID = taskID
	return true, detail(action, "set task to %s", taskID)
}
