package checklist

import (
	"sync"

	"tasksheet-sync/domain"
)

// State holds the in-memory task a view renders. It holds at most one task
// and performs no merging: the last Replace wins, with the remote listener
// expected to be the final authority.
type State struct {
	mu     sync.RWMutex
	task   domain.Task
	loaded bool
}

// NewState returns an unloaded State.
func NewState() *State {
	return &State{}
}

// Replace unconditionally overwrites the held task. Used by the remote
// listener, by the initial load, and by optimistic local updates.
func (s *State) Replace(task domain.Task) {
	cp := task.Clone()
	s.mu.Lock()
	s.task = cp
	s.loaded = true
	s.mu.Unlock()
}

// Current returns a copy of the held task and whether one is loaded.
func (s *State) Current() (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return domain.Task{}, false
	}
	return s.task.Clone(), true
}

// Clear drops the held task, returning the holder to its unloaded state.
func (s *State) Clear() {
	s.mu.Lock()
	s.task = domain.Task{}
	s.loaded = false
	s.mu.Unlock()
}
