package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasksheet-sync/checklist"
	"tasksheet-sync/domain"
	"tasksheet-sync/storage"
)

// errIndexOutOfRange marks a toggle request whose index does not address an
// existing checklist item. It is caught at the handler boundary and turned
// into a 400 so the pipeline's in-range precondition always holds.
var errIndexOutOfRange = errors.New("checklist index out of range")

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Store, auth Authenticator, deduper Deduper, pub checklist.Publisher, listener *checklist.Listener, logger *log.Logger) {
	deps := mutationDeps{
		store:   store,
		deduper: deduper,
		pub:     pub,
		events:  initEventSender(store, logger),
		logger:  logger,
	}

	e.GET("/api/tasks/:id", getTask(store, auth))
	e.GET("/api/tasks/:id/stream", streamTask(listener, auth))
	e.POST("/api/tasks/:id/status", postTaskStatus(deps, auth))
	e.POST("/api/tasks/:id/checklist/:index/toggle", postToggleItem(deps, auth))
	e.GET("/api/notifications", getNotifications(store, auth))
	e.GET("/healthz", healthz(store))
}

func healthz(_ Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getTask(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		task, err := store.GetTask(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, storage.ErrTaskNotFound) {
				return c.String(http.StatusNotFound, "task not found")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, taskResponse{Task: task})
	}
}

func getNotifications(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		notifs, err := store.ListNotifications(ctx, identity.ID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, notificationsResponse{Notifications: notifs})
	}
}

func postTaskStatus(deps mutationDeps, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, deps.logger, "/api/tasks/:id/status")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		identity, authErr := auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		lr := io.LimitReader(c.Request().Body, mutationMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()
		var req statusRequest
		if decodeErr := dec.Decode(&req); decodeErr != nil {
			metrics.SetErrorStage("invalid_body")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}

		err = deps.apply(c, ctx, metrics, identity, c.Param("id"), func(p *checklist.Pipeline, task domain.Task) error {
			return p.SetTaskStatus(ctx, req.Done)
		})
		return err
	}
}

func postToggleItem(deps mutationDeps, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, deps.logger, "/api/tasks/:id/checklist/toggle")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		identity, authErr := auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		index, parseErr := strconv.Atoi(strings.TrimSpace(c.Param("index")))
		if parseErr != nil || index < 0 {
			metrics.SetErrorStage("invalid_index")
			err = c.String(http.StatusBadRequest, "invalid checklist index")
			return err
		}

		err = deps.apply(c, ctx, metrics, identity, c.Param("id"), func(p *checklist.Pipeline, task domain.Task) error {
			if index >= len(task.Checklist) {
				return errIndexOutOfRange
			}
			return p.ToggleItem(ctx, index)
		})
		return err
	}
}

type mutationDeps struct {
	store   Store
	deduper Deduper
	pub     checklist.Publisher
	events  checklist.EventSink
	logger  *log.Logger
}

// apply runs the shared mutation path: idempotency check, load, pipeline
// op, response shaping. The op callback receives the loaded task so it can
// validate request parameters against it before mutating.
func (d mutationDeps) apply(c echo.Context, ctx context.Context, metrics *mutationMetrics, identity domain.UserIdentity, taskID string, op func(p *checklist.Pipeline, task domain.Task) error) (err error) {
	idemKey := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
	if idemKey != "" && d.deduper != nil {
		added, dedupeErr := d.deduper.Add(ctx, identity.ID, idemKey)
		if dedupeErr != nil {
			// Dedupe is best effort; losing it must not block mutations.
			d.logger.WithError(dedupeErr).Warn("idempotency check unavailable")
		} else if !added {
			metrics.SetDuplicate(true)
			task, getErr := d.store.GetTask(ctx, taskID)
			if getErr != nil {
				metrics.SetErrorStage("storage")
				err = c.String(http.StatusInternalServerError, getErr.Error())
				return err
			}
			err = c.JSON(http.StatusOK, taskResponse{Task: task, Duplicate: true})
			return err
		}
	}
	rollbackKey := func() {
		if idemKey == "" || d.deduper == nil {
			return
		}
		if rerr := d.deduper.Remove(context.Background(), identity.ID, idemKey); rerr != nil {
			d.logger.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, idemKey, identity.ID)
		}
	}

	loadStart := time.Now()
	task, loadErr := d.store.GetTask(ctx, taskID)
	metrics.ObserveLoad(time.Since(loadStart))
	if loadErr != nil {
		rollbackKey()
		if errors.Is(loadErr, storage.ErrTaskNotFound) {
			metrics.SetErrorStage("not_found")
			err = c.String(http.StatusNotFound, "task not found")
			return err
		}
		metrics.SetErrorStage("storage")
		c.Logger().Error(loadErr)
		err = c.String(http.StatusInternalServerError, loadErr.Error())
		return err
	}

	state := checklist.NewState()
	state.Replace(task)
	pipeline := checklist.NewPipeline(d.store, state, d.pub, d.events, identity, d.logger)

	prevDone := task.Done
	applyStart := time.Now()
	opErr := op(pipeline, task)
	metrics.ObserveApply(time.Since(applyStart))

	updated, _ := state.Current()
	metrics.SetStatusChanged(updated.Done != prevDone)

	switch {
	case opErr == nil:
		err = c.JSON(http.StatusOK, taskResponse{Task: updated})
	case errors.Is(opErr, errIndexOutOfRange):
		rollbackKey()
		metrics.SetErrorStage("invalid_index")
		err = c.String(http.StatusBadRequest, "checklist index out of range")
	case errors.Is(opErr, checklist.ErrNotificationFanout):
		// The task write stands; only the fan-out was lost. Do not roll
		// back the idempotency key, a retry would redo the whole mutation.
		metrics.SetErrorStage("notify")
		err = c.JSON(http.StatusOK, taskResponse{Task: updated, Warning: "task updated, notifying assignees failed"})
	default:
		rollbackKey()
		metrics.SetErrorStage("persist")
		c.Logger().Error(opErr)
		err = c.String(http.StatusInternalServerError, "failed to update task")
	}
	return err
}
