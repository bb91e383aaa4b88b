package domain

import (
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestTaskMarshalIncludesDoneFalse(t *testing.T) {
	task := Task{ID: "t1", Title: "Title", Checklist: []ChecklistItem{}}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}

	if !strings.Contains(string(payload), "\"done\":false") {
		t.Fatalf("expected done field to be present, got %s", payload)
	}
}

func TestToggleItemFlipsOnlyTarget(t *testing.T) {
	task := Task{
		Checklist: []ChecklistItem{
			{Text: "Buy milk"},
			{Text: "Call Bob"},
			{Text: "Ship release", Done: true},
		},
	}

	task.ToggleItem(1)

	want := []bool{false, true, true}
	for i, item := range task.Checklist {
		if item.Done != want[i] {
			t.Fatalf("item %d: got done=%v, want %v", i, item.Done, want[i])
		}
	}
	if task.Done {
		t.Fatal("task must not be done while an item is open")
	}
}

func TestToggleItemDerivesDoneFromAllItems(t *testing.T) {
	task := Task{
		Checklist: []ChecklistItem{
			{Text: "Buy milk"},
			{Text: "Call Bob"},
		},
	}

	task.ToggleItem(0)
	if task.Done {
		t.Fatal("one open item left, task must stay open")
	}
	task.ToggleItem(1)
	if !task.Done {
		t.Fatal("all items done, task must be done")
	}
	if task.Done != task.AllItemsDone() {
		t.Fatal("stored flag must match re-derivation from the checklist")
	}

	task.ToggleItem(0)
	if task.Done {
		t.Fatal("reopening an item must reopen the task")
	}
}

func TestToggleItemOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range index")
		}
	}()
	task := Task{Checklist: []ChecklistItem{{Text: "only"}}}
	task.ToggleItem(5)
}

func TestSetAllItemsKeepsFlagAndItemsInLockStep(t *testing.T) {
	tests := []struct {
		name  string
		items []ChecklistItem
		done  bool
	}{
		{name: "complete mixed checklist", items: []ChecklistItem{{Done: true}, {}}, done: true},
		{name: "reopen finished checklist", items: []ChecklistItem{{Done: true}, {Done: true}}, done: false},
		{name: "empty checklist completes directly", items: nil, done: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := Task{Checklist: tt.items, Done: !tt.done}
			task.SetAllItems(tt.done)
			if task.Done != tt.done {
				t.Fatalf("task done=%v, want %v", task.Done, tt.done)
			}
			for i, item := range task.Checklist {
				if item.Done != tt.done {
					t.Fatalf("item %d done=%v, want %v", i, item.Done, tt.done)
				}
			}
		})
	}
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	task := Task{
		Checklist: []ChecklistItem{{Text: "a"}},
		Assignees: []Assignee{{ID: "u1"}},
	}
	cp := task.Clone()
	cp.Checklist[0].Done = true
	cp.Assignees[0].ID = "u2"

	if task.Checklist[0].Done {
		t.Fatal("clone shares checklist backing array")
	}
	if task.Assignees[0].ID != "u1" {
		t.Fatal("clone shares assignees backing array")
	}
}
