package api

import (
	"context"

	"tasksheet-sync/domain"
)

// Store abstracts persistence for handlers.
type Store interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
	WriteTaskStatus(ctx context.Context, id string, checklist []domain.ChecklistItem, done bool) error
	InsertNotifications(ctx context.Context, taskID string, notifs []domain.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error)
	EnqueueStatusEvents(ctx context.Context, events []domain.StatusEvent) error
}

// Authenticator is implemented by types able to extract the acting user's
// identity from headers.
type Authenticator interface {
	IdentityFromAuthHeader(string) (domain.UserIdentity, error)
}

// Deduper prevents processing of duplicate mutations.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
