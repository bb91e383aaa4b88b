package storage

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"tasksheet-sync/domain"
)

// ErrTaskNotFound signals that the requested task document does not exist.
// It is distinct from transport or subscription failures.
var ErrTaskNotFound = errors.New("task not found")

const (
	defaultQueueConcurrency = 8
	queuePerCPU             = 10
	maxQueueConcurrency     = 64
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage provides access to underlying persistence mechanisms.
type Storage struct {
	taskTable         *aztables.Client
	notificationTable *aztables.Client
	statusQueue       queueClient
	queueConcurrency  int
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, notificationsTable, statusQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	tt := svc.NewClient(tasksTable)
	nt := svc.NewClient(notificationsTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	sq, err := azqueue.NewQueueClientFromConnectionString(connStr, statusQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable:         tt,
		notificationTable: nt,
		statusQueue:       sq,
		queueConcurrency:  queueConcurrencyForCPU(runtime.NumCPU()),
	}, nil
}

// GetTask retrieves a single task document by id.
func (s *Storage) GetTask(ctx context.Context, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, id, id, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, ErrTaskNotFound
		}
		return domain.Task{}, err
	}
	return decodeTaskEntity(resp.Value)
}

// WriteTaskStatus persists the checklist and the done flag of a task in a
// single merge update. Both fields travel together so the invariant between
// them holds on every persisted revision.
func (s *Storage) WriteTaskStatus(ctx context.Context, id string, checklist []domain.ChecklistItem, done bool) error {
	payload, err := encodeTaskStatusUpdate(id, checklist, done)
	if err != nil {
		return err
	}
	etag := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &etag,
		UpdateMode: aztables.UpdateModeMerge,
	})
	if err != nil && isNotFound(err) {
		return ErrTaskNotFound
	}
	return err
}

// InsertNotifications records every notification for one status change as a
// single table transaction. The records share the task's partition, so the
// batch commits or fails as a unit.
func (s *Storage) InsertNotifications(ctx context.Context, taskID string, notifs []domain.Notification) error {
	if len(notifs) == 0 {
		return nil
	}
	actions, err := notificationBatch(taskID, notifs)
	if err != nil {
		return err
	}
	_, err = s.notificationTable.SubmitTransaction(ctx, actions, nil)
	return err
}

// ListNotifications returns every stored notification addressed to the user,
// newest first.
func (s *Storage) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	filter := "Recipient eq '" + userID + "'"
	pager := s.notificationTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	notifs := []domain.Notification{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			n, err := decodeNotificationEntity(e)
			if err != nil {
				return nil, err
			}
			notifs = append(notifs, n)
		}
	}
	sortNotificationsNewestFirst(notifs)
	return notifs, nil
}

// EnqueueStatusEvents sends the given events to the status events queue,
// fanning sends out over a bounded number of goroutines.
func (s *Storage) EnqueueStatusEvents(ctx context.Context, events []domain.StatusEvent) error {
	if len(events) == 0 {
		return nil
	}
	concurrency := s.queueConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(events) {
		concurrency = len(events)
	}

	sem := make(chan struct{}, concurrency)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, ev := range events {
		body, err := ev.Encode()
		if err != nil {
			return err
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(body string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := s.statusQueue.EnqueueMessage(ctx, body, nil); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(body)
	}
	wg.Wait()
	return firstErr
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func queueConcurrencyForCPU(cpu int) int {
	if cpu <= 0 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		return maxQueueConcurrency
	}
	return n
}
