package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"tasksheet-sync/checklist"
	"tasksheet-sync/domain"
	"tasksheet-sync/storage"
)

// streamTask serves a server-sent event stream carrying the full task
// document: one snapshot on connect, then one per remote change. EventSource
// cannot set headers, so the bearer token may also arrive as a query param.
func streamTask(listener *checklist.Listener, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		if _, err := auth.IdentityFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx, cancel := context.WithCancel(c.Request().Context())
		defer cancel()

		state := checklist.NewState()
		updates := make(chan domain.Task, 1)
		errs := make(chan error, 1)
		go listener.Watch(ctx, c.Param("id"), state, func(task domain.Task) {
			offerLatest(updates, task)
		}, func(err error) {
			select {
			case errs <- err:
			default:
			}
		})

		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-errs:
				msg := "subscription lost"
				if errors.Is(err, storage.ErrTaskNotFound) {
					msg = "task not found"
				}
				writeSSE(c, flusher, "error", []byte(msg))
				return nil
			case task := <-updates:
				data, err := sonic.Marshal(task)
				if err != nil {
					continue
				}
				if !writeSSE(c, flusher, "", data) {
					return nil
				}
			}
		}
	}
}

// offerLatest replaces whatever snapshot is queued with the newer one so a
// slow client always receives the freshest state on its next read.
func offerLatest(ch chan domain.Task, task domain.Task) {
	for {
		select {
		case ch <- task:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func writeSSE(c echo.Context, flusher http.Flusher, event string, data []byte) bool {
	if event != "" {
		if _, err := c.Response().Write([]byte("event: " + event + "\n")); err != nil {
			return false
		}
	}
	if _, err := c.Response().Write([]byte("data: ")); err != nil {
		return false
	}
	if _, err := c.Response().Write(data); err != nil {
		return false
	}
	if _, err := c.Response().Write([]byte("\n\n")); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
