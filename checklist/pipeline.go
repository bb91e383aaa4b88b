package checklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"tasksheet-sync/domain"
)

// ErrNotificationFanout reports that the notification batch failed to
// commit after the task write already succeeded. The task mutation stands;
// the two are independent durability units and the batch is never retried
// automatically.
var ErrNotificationFanout = errors.New("notification fan-out failed")

// Store persists task mutations and notification batches.
type Store interface {
	WriteTaskStatus(ctx context.Context, id string, checklist []domain.ChecklistItem, done bool) error
	InsertNotifications(ctx context.Context, taskID string, notifs []domain.Notification) error
}

// Publisher announces a committed task write to subscribers.
type Publisher interface {
	PublishTaskUpdate(ctx context.Context, taskID string) error
}

// EventSink accepts status transition events for asynchronous delivery.
type EventSink interface {
	SendStatusEvent(ev domain.StatusEvent)
}

// Pipeline applies user-initiated checklist and status mutations: optimistic
// local update, persist, then notification fan-out when the aggregate status
// actually flipped. The acting user is an explicit dependency; the pipeline
// never reads ambient session state.
type Pipeline struct {
	store  Store
	state  *State
	pub    Publisher
	events EventSink
	actor  domain.UserIdentity
	logger *log.Logger
	now    func() time.Time
}

// NewPipeline creates a Pipeline for one acting user. pub and events may be
// nil; persistence and fan-out still run without them.
func NewPipeline(store Store, state *State, pub Publisher, events EventSink, actor domain.UserIdentity, logger *log.Logger) *Pipeline {
	if store == nil {
		panic("checklist.NewPipeline: store is nil")
	}
	if state == nil {
		panic("checklist.NewPipeline: state is nil")
	}
	if logger == nil {
		panic("checklist.NewPipeline: logger is nil")
	}
	return &Pipeline{
		store:  store,
		state:  state,
		pub:    pub,
		events: events,
		actor:  actor,
		logger: logger,
		now:    time.Now,
	}
}

// SetTaskStatus completes or reopens the whole task: every checklist item
// and the task flag move to the requested state together.
func (p *Pipeline) SetTaskStatus(ctx context.Context, done bool) error {
	task := p.mustCurrent()
	prevDone := task.Done
	task.SetAllItems(done)
	return p.commit(ctx, task, prevDone)
}

// ToggleItem flips the checklist item at index and re-derives the task flag.
// The index must be in bounds; handing an out-of-range index here is a
// caller bug and panics.
func (p *Pipeline) ToggleItem(ctx context.Context, index int) error {
	task := p.mustCurrent()
	if index < 0 || index >= len(task.Checklist) {
		panic(fmt.Sprintf("checklist: item index %d out of range for %d items", index, len(task.Checklist)))
	}
	prevDone := task.Done
	task.ToggleItem(index)
	return p.commit(ctx, task, prevDone)
}

func (p *Pipeline) mustCurrent() domain.Task {
	task, ok := p.state.Current()
	if !ok {
		panic("checklist: no task loaded")
	}
	return task
}

func (p *Pipeline) commit(ctx context.Context, task domain.Task, prevDone bool) error {
	// Optimistic update: the view renders the new state before the write
	// lands. A later subscription echo replaces it with the stored copy.
	p.state.Replace(task)

	if err := p.store.WriteTaskStatus(ctx, task.ID, task.Checklist, task.Done); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"task":  task.ID,
			"actor": p.actor.ID,
		}).Error("persist task status")
		return fmt.Errorf("persist task status: %w", err)
	}

	if p.pub != nil {
		if err := p.pub.PublishTaskUpdate(ctx, task.ID); err != nil {
			// Subscribers miss one ping and catch up on the next write.
			p.logger.WithError(err).WithField("task", task.ID).Warn("publish task update")
		}
	}

	if task.Done == prevDone {
		return nil
	}

	if p.events != nil {
		p.events.SendStatusEvent(domain.StatusEvent{
			TaskID:  task.ID,
			ActorID: p.actor.ID,
			Done:    task.Done,
		})
	}

	notifs := domain.StatusChangeNotifications(p.actor, task, p.now())
	if len(notifs) == 0 {
		return nil
	}
	if err := p.store.InsertNotifications(ctx, task.ID, notifs); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"task":       task.ID,
			"actor":      p.actor.ID,
			"recipients": len(notifs),
		}).Error("notification fan-out")
		return fmt.Errorf("%w: %v", ErrNotificationFanout, err)
	}
	return nil
}
