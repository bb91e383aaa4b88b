package domain

import "time"

// Priority labels a task. An empty value means no priority was assigned.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Assignee references a user attached to a task.
type Assignee struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// ChecklistItem is a single entry in a task checklist. Items carry no
// identifier of their own; position in the checklist is their identity.
type ChecklistItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Task is the document the synchronizer operates on.
type Task struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Body        string          `json:"body,omitempty"`
	Due         *time.Time      `json:"due,omitempty"`
	Checklist   []ChecklistItem `json:"checklist"`
	Assignees   []Assignee      `json:"assignees"`
	Creator     Assignee        `json:"creator"`
	Priority    Priority        `json:"priority,omitempty"`
	Done        bool            `json:"done"`
}

// Clone returns a deep copy so callers can hand the task across goroutine
// boundaries without sharing the checklist or assignee slices.
func (t Task) Clone() Task {
	cp := t
	if t.Checklist != nil {
		cp.Checklist = append([]ChecklistItem(nil), t.Checklist...)
	}
	if t.Assignees != nil {
		cp.Assignees = append([]Assignee(nil), t.Assignees...)
	}
	if t.Due != nil {
		due := *t.Due
		cp.Due = &due
	}
	return cp
}

// AllItemsDone reports whether every checklist item is done. An empty
// checklist is vacuously true; callers deciding the task flag must treat
// that case separately.
func (t Task) AllItemsDone() bool {
	for _, item := range t.Checklist {
		if !item.Done {
			return false
		}
	}
	return true
}

// SetAllItems forces every checklist item and the task flag to the given
// state. This is the whole-task toggle path: it keeps the flag and the
// items in lock-step instead of deriving one from the other.
func (t *Task) SetAllItems(done bool) {
	for i := range t.Checklist {
		t.Checklist[i].Done = done
	}
	t.Done = done
}

// ToggleItem flips the item at index i and re-derives the task flag as the
// conjunction over all items. With an empty checklist there is nothing to
// derive from, so the flag keeps its previous value; indexing panics on an
// out-of-range i, which is a caller bug.
func (t *Task) ToggleItem(i int) {
	t.Checklist[i].Done = !t.Checklist[i].Done
	if len(t.Checklist) > 0 {
		t.Done = t.AllItemsDone()
	}
}
