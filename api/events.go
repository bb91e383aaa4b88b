package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tasksheet-sync/domain"
)

// statusEventSender delivers status transition events to the events queue
// from a pool of worker goroutines. Delivery is best effort: a saturated
// buffer drops the event with an error log rather than blocking a mutation
// request, and a failed enqueue is logged but never retried.
type statusEventSender struct {
	store  Store
	logger *log.Logger

	jobs           chan domain.StatusEvent
	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	workerWG       sync.WaitGroup
}

var (
	senderOnce   sync.Once
	globalSender *statusEventSender
)

func initEventSender(store Store, logger *log.Logger) *statusEventSender {
	senderOnce.Do(func() {
		if store == nil {
			panic("storage is required")
		}
		if logger == nil {
			panic("logger is required")
		}
		globalSender = newStatusEventSender(store, logger,
			envInt("EVENT_WORKERS", 8),
			envInt("EVENT_BUFFER", 1024),
			envDur("EVENT_ENQUEUE_TIMEOUT", 30*time.Second),
			envDur("EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond),
		)
	})
	return globalSender
}

// shutdownEventSender stops worker goroutines and clears shared state. It is intended for tests.
func shutdownEventSender() {
	if globalSender != nil {
		close(globalSender.jobs)
		globalSender.workerWG.Wait()
		globalSender = nil
	}
	senderOnce = sync.Once{}
}

func newStatusEventSender(store Store, logger *log.Logger, workers, buffer int, enqueueTimeout, handoffTimeout time.Duration) *statusEventSender {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = workers * 2
	}
	s := &statusEventSender{
		store:          store,
		logger:         logger,
		jobs:           make(chan domain.StatusEvent, buffer),
		enqueueTimeout: enqueueTimeout,
		handoffTimeout: handoffTimeout,
	}
	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go s.worker(i)
	}
	logger.Infof("status event sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workers, buffer, enqueueTimeout, handoffTimeout)
	return s
}

func (s *statusEventSender) worker(id int) {
	defer s.workerWG.Done()
	for ev := range s.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), s.enqueueTimeout)
		err := s.store.EnqueueStatusEvents(ctx, []domain.StatusEvent{ev})
		cancel()
		if err != nil {
			s.logger.Errorf("status event enqueue failed, err: %v, task: %s, worker: %d", err, ev.TaskID, id)
		}
	}
}

// SendStatusEvent stamps the event and hands it to the worker pool.
func (s *statusEventSender) SendStatusEvent(ev domain.StatusEvent) {
	ev.ID = uuid.NewString()
	ev.Timestamp = nextTimestamp()

	if s.trySend(ev) {
		return
	}
	s.logger.Errorf("status event buffer saturated, dropping event for task %s", ev.TaskID)
}

func (s *statusEventSender) trySend(ev domain.StatusEvent) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	select {
	case s.jobs <- ev:
		return true
	default:
	}

	if s.handoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(s.handoffTimeout)
	defer timer.Stop()

	select {
	case s.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}
