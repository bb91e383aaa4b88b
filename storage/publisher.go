package storage

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const taskUpdatesChannelPrefix = "task-updates:"

// TaskUpdatesChannel is the pub/sub channel carrying update pings for a task.
func TaskUpdatesChannel(taskID string) string {
	return taskUpdatesChannelPrefix + taskID
}

// Publisher announces committed task writes on the per-task update channel.
// Subscribers, including the writer's own listener, re-fetch the document on
// every ping.
type Publisher struct {
	redis *redis.Client
}

// NewPublisher creates a Publisher on the given Redis client.
func NewPublisher(client *redis.Client) *Publisher {
	if client == nil {
		panic("storage.NewPublisher: redis client is nil")
	}
	return &Publisher{redis: client}
}

// PublishTaskUpdate pings every subscriber of the task's update channel.
func (p *Publisher) PublishTaskUpdate(ctx context.Context, taskID string) error {
	return p.redis.Publish(ctx, TaskUpdatesChannel(taskID), taskID).Err()
}
