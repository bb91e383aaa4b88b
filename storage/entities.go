package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"tasksheet-sync/domain"
)

// Tasks and notifications live in flat table entities. Structured fields
// (checklist, assignees, payloads) are stored as JSON string properties.
type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Body        string `json:"Body"`
	Due         int64  `json:"Due"`
	Checklist   string `json:"Checklist"`
	Assignees   string `json:"Assignees"`
	CreatorID   string `json:"CreatorId"`
	CreatorName string `json:"CreatorName"`
	CreatorIcon string `json:"CreatorIcon"`
	Priority    string `json:"Priority"`
	Done        bool   `json:"Done"`
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	task := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Body:        ent.Body,
		Creator:     domain.Assignee{ID: ent.CreatorID, DisplayName: ent.CreatorName, AvatarURL: ent.CreatorIcon},
		Priority:    domain.Priority(ent.Priority),
		Done:        ent.Done,
	}
	if ent.Due != 0 {
		due := time.UnixMilli(ent.Due).UTC()
		task.Due = &due
	}
	if ent.Checklist != "" {
		if err := json.Unmarshal([]byte(ent.Checklist), &task.Checklist); err != nil {
			return domain.Task{}, fmt.Errorf("decode checklist for %s: %w", ent.RowKey, err)
		}
	}
	if ent.Assignees != "" {
		if err := json.Unmarshal([]byte(ent.Assignees), &task.Assignees); err != nil {
			return domain.Task{}, fmt.Errorf("decode assignees for %s: %w", ent.RowKey, err)
		}
	}
	return task, nil
}

func encodeTaskStatusUpdate(id string, checklist []domain.ChecklistItem, done bool) ([]byte, error) {
	if checklist == nil {
		checklist = []domain.ChecklistItem{}
	}
	items, err := json.Marshal(checklist)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"PartitionKey": id,
		"RowKey":       id,
		"Checklist":    string(items),
		"Done":         done,
	})
}

type notificationEntity struct {
	aztables.Entity
	Kind      string `json:"Kind"`
	Recipient string `json:"Recipient"`
	Message   string `json:"Message"`
	CreatedAt int64  `json:"CreatedAt"`
	Unread    bool   `json:"Unread"`
	Payload   string `json:"Payload"`
}

// notificationBatch builds the transaction actions for one fan-out. All
// rows use the task id as partition key; aztables rejects cross-partition
// transactions, and sharing the partition is what makes the batch atomic.
func notificationBatch(taskID string, notifs []domain.Notification) ([]aztables.TransactionAction, error) {
	actions := make([]aztables.TransactionAction, 0, len(notifs))
	for _, n := range notifs {
		payload, err := json.Marshal(n.Payload)
		if err != nil {
			return nil, err
		}
		ent := notificationEntity{
			Entity:    aztables.Entity{PartitionKey: taskID, RowKey: n.ID},
			Kind:      n.Kind,
			Recipient: n.Recipient,
			Message:   n.Message,
			CreatedAt: n.CreatedAt.UnixMilli(),
			Unread:    n.Unread,
			Payload:   string(payload),
		}
		body, err := json.Marshal(ent)
		if err != nil {
			return nil, err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeAdd,
			Entity:     body,
		})
	}
	return actions, nil
}

func decodeNotificationEntity(data []byte) (domain.Notification, error) {
	var ent notificationEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Notification{}, err
	}
	n := domain.Notification{
		ID:        ent.RowKey,
		Kind:      ent.Kind,
		Recipient: ent.Recipient,
		Message:   ent.Message,
		CreatedAt: time.UnixMilli(ent.CreatedAt).UTC(),
		Unread:    ent.Unread,
	}
	switch ent.Kind {
	case domain.KindTaskStatusChanged:
		var payload domain.StatusChangedPayload
		if err := json.Unmarshal([]byte(ent.Payload), &payload); err != nil {
			return domain.Notification{}, fmt.Errorf("decode payload for %s: %w", ent.RowKey, err)
		}
		n.Payload = payload
	default:
		return domain.Notification{}, fmt.Errorf("unknown notification kind %q", ent.Kind)
	}
	return n, nil
}

func sortNotificationsNewestFirst(notifs []domain.Notification) {
	sort.SliceStable(notifs, func(i, j int) bool {
		return notifs[i].CreatedAt.After(notifs[j].CreatedAt)
	})
}
