package api

import "tasksheet-sync/domain"

const mutationMaxSize = 64 * 1024 // 64 KiB

// POST /api/tasks/:id/status request body
type statusRequest struct {
	Done bool `json:"done"`
}

// Response body shared by the mutation endpoints.
type taskResponse struct {
	Task      domain.Task `json:"task"`
	Duplicate bool        `json:"duplicate,omitempty"`
	Warning   string      `json:"warning,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// GET /api/notifications response body
type notificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}
