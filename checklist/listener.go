package checklist

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasksheet-sync/domain"
	"tasksheet-sync/storage"
)

// ErrSubscriptionClosed reports that the underlying update channel went away
// while the listener was still watching. It is delivered through onError and
// is terminal for that subscription; the listener never resubscribes on its
// own, since a silent retry could mask a permissions change.
var ErrSubscriptionClosed = errors.New("task update subscription closed")

// TaskReader fetches the current task document.
type TaskReader interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
}

// Listener watches the per-task update channel and delivers the full current
// document on every ping, including immediately on start.
type Listener struct {
	rc     *redis.Client
	store  TaskReader
	logger *log.Logger
}

// NewListener creates a Listener reading documents through store and update
// pings through the given Redis client.
func NewListener(rc *redis.Client, store TaskReader, logger *log.Logger) *Listener {
	if rc == nil {
		panic("checklist.NewListener: redis client is nil")
	}
	if store == nil {
		panic("checklist.NewListener: store is nil")
	}
	if logger == nil {
		panic("checklist.NewListener: logger is nil")
	}
	return &Listener{rc: rc, store: store, logger: logger}
}

// Run blocks until ctx is cancelled or the subscription fails. onChange is
// invoked with the present document right after subscribing and again after
// every update ping; onError is invoked at most once, for fetch failures
// (including a deleted document) and for channel loss. Both callbacks run on
// the calling goroutine, so neither fires after Run returns.
func (l *Listener) Run(ctx context.Context, taskID string, onChange func(domain.Task), onError func(error)) {
	sub := l.rc.Subscribe(ctx, storage.TaskUpdatesChannel(taskID))
	defer func() {
		if err := sub.Close(); err != nil {
			l.logger.WithError(err).WithField("task", taskID).Warn("close task subscription")
		}
	}()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			onError(err)
		}
		return
	}

	if !l.deliver(ctx, taskID, onChange, onError) {
		return
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					onError(ErrSubscriptionClosed)
				}
				return
			}
			if !l.deliver(ctx, taskID, onChange, onError) {
				return
			}
		}
	}
}

// Watch is Run with the delivered documents pushed into state. onReplace, if
// set, observes every replacement.
func (l *Listener) Watch(ctx context.Context, taskID string, state *State, onReplace func(domain.Task), onError func(error)) {
	l.Run(ctx, taskID, func(task domain.Task) {
		state.Replace(task)
		if onReplace != nil {
			onReplace(task)
		}
	}, onError)
}

func (l *Listener) deliver(ctx context.Context, taskID string, onChange func(domain.Task), onError func(error)) bool {
	task, err := l.store.GetTask(ctx, taskID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		l.logger.WithError(err).WithField("task", taskID).Error("fetch task for subscriber")
		onError(err)
		return false
	}
	onChange(task)
	return true
}
