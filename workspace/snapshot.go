// Package workspace caches workspace metadata (projects, clients,
// tags, users and project tasks) needed for name-based rule
// conditions and actions. Lookups are served from immutable
// snapshots so evaluation never blocks on the external API.
package workspace

import (
	"strings"
	"time"
)

// Dataset names the entity collections a snapshot carries.
const (
	DatasetProjects = "projects"
	DatasetClients  = "clients"
	DatasetTags     = "tags"
	DatasetUsers    = "users"
	DatasetTasks    = "tasks"
)

// Snapshot is an immutable view of one workspace's metadata. All maps
// are fully built before publication and never mutated afterwards, so
// a snapshot is safe for concurrent readers.
type Snapshot struct {
	WorkspaceID string
	LoadedAt    time.Time

	projectNames map[string]string // id -> name
	projectIDs   map[string]string // normalized name -> id
	clientNames  map[string]string
	clientIDs    map[string]string
	tagNames     map[string]string
	tagIDs       map[string]string
	userNames    map[string]string
	userIDs      map[string]string

	// tasksByProject maps project id -> normalized task name -> task id.
	tasksByProject map[string]map[string]string

	truncated map[string]bool
}

// normalize is the canonical form used for all name keys: trimmed and
// case-folded. When two entities share a normalized name the first
// one loaded wins.
func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// entry is an id/name pair fed into a snapshot builder.
type entry struct {
	id   string
	name string
}

type builder struct {
	snap     *Snapshot
	maxItems int

	// taskCount is the running task total across all projects; the
	// task cap bounds the whole enumeration, not each project.
	taskCount int
}

func newBuilder(workspaceID string, maxItems int) *builder {
	return &builder{
		snap: &Snapshot{
			WorkspaceID:    workspaceID,
			LoadedAt:       time.Now(),
			projectNames:   map[string]string{},
			projectIDs:     map[string]string{},
			clientNames:    map[string]string{},
			clientIDs:      map[string]string{},
			tagNames:       map[string]string{},
			tagIDs:         map[string]string{},
			userNames:      map[string]string{},
			userIDs:        map[string]string{},
			tasksByProject: map[string]map[string]string{},
			truncated:      map[string]bool{},
		},
		maxItems: maxItems,
	}
}

// addAll fills an id->name / name->id map pair, honoring the
// per-dataset item cap. Returns false once the cap is hit so loaders
// can stop paging.
func (b *builder) addAll(dataset string, names, ids map[string]string, items []entry) bool {
	for _, it := range items {
		if b.maxItems > 0 && len(names) >= b.maxItems {
			b.snap.truncated[dataset] = true
			return false
		}
		if it.id == "" {
			continue
		}
		names[it.id] = it.name
		norm := normalize(it.name)
		if norm != "" {
			if _, taken := ids[norm]; !taken {
				ids[norm] = it.id
			}
		}
	}
	return true
}

func (b *builder) addTasks(projectID string, items []entry) bool {
	tasks := b.snap.tasksByProject[projectID]
	if tasks == nil {
		tasks = map[string]string{}
		b.snap.tasksByProject[projectID] = tasks
	}
	for _, it := range items {
		if b.maxItems > 0 && b.taskCount >= b.maxItems {
			b.snap.truncated[DatasetTasks] = true
			return false
		}
		norm := normalize(it.name)
		if it.id == "" || norm == "" {
			continue
		}
		if _, taken := tasks[norm]; !taken {
			tasks[norm] = it.id
			b.taskCount++
		}
	}
	return true
}

// All lookup methods tolerate a nil receiver: when metadata could not
// be loaded the pipeline degrades to payload-only behavior instead of
// dropping the delivery, and every name lookup simply misses.

// ProjectName returns the name for a project id.
func (s *Snapshot) ProjectName(id string) (string, bool) {
	if s == nil {
		return "", false
	}
	name, ok := s.projectNames[id]
	return name, ok
}

// ProjectIDByName resolves a project by name, case-insensitively.
func (s *Snapshot) ProjectIDByName(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	id, ok := s.projectIDs[normalize(name)]
	return id, ok
}

// ClientName returns the name for a client id.
func (s *Snapshot) ClientName(id string) (string, bool) {
	if s == nil {
		return "", false
	}
	name, ok := s.clientNames[id]
	return name, ok
}

// ClientIDByName resolves a client by name, case-insensitively.
func (s *Snapshot) ClientIDByName(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	id, ok := s.clientIDs[normalize(name)]
	return id, ok
}

// TagName returns the name for a tag id.
func (s *Snapshot) TagName(id string) (string, bool) {
	if s == nil {
		return "", false
	}
	name, ok := s.tagNames[id]
	return name, ok
}

// TagIDByName resolves a tag by name, case-insensitively.
func (s *Snapshot) TagIDByName(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	id, ok := s.tagIDs[normalize(name)]
	return id, ok
}

// UserName returns the name for a user id.
func (s *Snapshot) UserName(id string) (string, bool) {
	if s == nil {
		return "", false
	}
	name, ok := s.userNames[id]
	return name, ok
}

// TaskIDByName resolves a task by name within a project,
// case-insensitively.
func (s *Snapshot) TaskIDByName(projectID, name string) (string, bool) {
	if s == nil {
		return "", false
	}
	tasks, ok := s.tasksByProject[projectID]
	if !ok {
		return "", false
	}
	id, ok := tasks[normalize(name)]
	return id, ok
}

// Truncated reports whether a dataset hit the item cap while loading.
func (s *Snapshot) Truncated(dataset string) bool {
	if s == nil {
		return false
	}
	return s.truncated[dataset]
}

// withTag returns a copy of the snapshot with one extra tag. Used to
// publish tags created during action execution without a full reload.
func (s *Snapshot) withTag(id, name string) *Snapshot {
	next := *s
	next.tagNames = make(map[string]string, len(s.tagNames)+1)
	for k, v := range s.tagNames {
		next.tagNames[k] = v
	}
	next.tagIDs = make(map[string]string, len(s.tagIDs)+1)
	for k, v := range s.tagIDs {
		next.tagIDs[k] = v
	}
	next.tagNames[id] = name
	norm := normalize(name)
	if norm != "" {
		if _, taken := next.tagIDs[norm]; !taken {
			next.tagIDs[norm] = id
		}
	}
	return &next
}
