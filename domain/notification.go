package domain

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Notification kinds. Each kind has its own payload type; Payload carries
// exactly one of them.
const (
	KindTaskStatusChanged = "task-status-changed"
)

// StatusChangedPayload is the payload for KindTaskStatusChanged.
type StatusChangedPayload struct {
	Actor UserIdentity `json:"actor"`
	Task  Task         `json:"task"`
	Done  bool         `json:"done"`
}

func (StatusChangedPayload) notificationPayload() {}

// NotificationPayload is implemented by the payload type of every
// notification kind.
type NotificationPayload interface {
	notificationPayload()
}

// Notification is a single item in a recipient's inbox.
type Notification struct {
	ID        string              `json:"id"`
	Kind      string              `json:"kind"`
	Recipient string              `json:"recipient"`
	Message   string              `json:"message"`
	CreatedAt time.Time           `json:"createdAt"`
	Unread    bool                `json:"unread"`
	Payload   NotificationPayload `json:"payload"`
}

// StatusLabel is the human readable form of the task flag.
func StatusLabel(done bool) string {
	if done {
		return "Completed"
	}
	return "In Progress"
}

// NewStatusChanged builds one task-status-changed notification for the
// given recipient. The task snapshot is deep-copied so later local edits
// do not leak into an already built notification.
func NewStatusChanged(actor UserIdentity, task Task, recipient string, now time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Kind:      KindTaskStatusChanged,
		Recipient: recipient,
		Message:   fmt.Sprintf("%s marked %q as %s", actor.DisplayName, task.Title, StatusLabel(task.Done)),
		CreatedAt: now.UTC(),
		Unread:    true,
		Payload: StatusChangedPayload{
			Actor: actor,
			Task:  task.Clone(),
			Done:  task.Done,
		},
	}
}

// StatusChangeNotifications fans one status change out to every assignee
// except the actor. The returned slice is empty when the actor is the only
// assignee.
func StatusChangeNotifications(actor UserIdentity, task Task, now time.Time) []Notification {
	notifs := make([]Notification, 0, len(task.Assignees))
	for _, a := range task.Assignees {
		if a.ID == actor.ID {
			continue
		}
		notifs = append(notifs, NewStatusChanged(actor, task, a.ID, now))
	}
	return notifs
}

// StatusEvent is the envelope published to the status events queue on every
// actual status transition.
type StatusEvent struct {
	ID        string `json:"id"`
	TaskID    string `json:"taskId"`
	ActorID   string `json:"actorId"`
	Done      bool   `json:"done"`
	Timestamp int64  `json:"timestamp"`
}

// Encode serializes the event for the queue.
func (ev StatusEvent) Encode() (string, error) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
