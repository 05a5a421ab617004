package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/plexoapp/plexo/changelog"
	"github.com/plexoapp/plexo/domain"
	"github.com/plexoapp/plexo/loader"
	"github.com/plexoapp/plexo/relations"
	"github.com/plexoapp/plexo/storage"
)

const requestBodyMaxSize = 1 << 20

// memberHeader carries the acting member's id. Authentication itself lives in
// front of this service; the change log still needs an owner for every row.
const memberHeader = "X-Member-ID"

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, recorder Recorder, streams Streams, loaderCfg loader.Config, logger *log.Logger) {
	e.GET("/api/tasks", listTasks(store))
	e.GET("/api/tasks/:id", getTask(store, loaderCfg, logger))
	e.POST("/api/tasks", createTask(store, recorder, logger))
	e.PATCH("/api/tasks/:id", updateTask(store, recorder))
	e.DELETE("/api/tasks/:id", deleteTask(store, recorder))

	e.GET("/api/changes", listChanges(store))
	e.GET("/api/changes/stream", streamChanges(streams, logger))
	e.GET("/api/changes/:id", getChange(store))
	e.PATCH("/api/changes/:id", updateChange(store))
	e.DELETE("/api/changes/:id", deleteChange(store))

	e.GET("/healthz", healthz(store))
}

func memberID(c echo.Context) (uuid.UUID, error) {
	raw := c.Request().Header.Get(memberHeader)
	if raw == "" {
		return uuid.Nil, errors.New("missing " + memberHeader + " header")
	}
	return uuid.Parse(raw)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("id"))
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func storageFail(c echo.Context, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return c.String(http.StatusNotFound, "not found")
	}
	// The detail stays in the log; clients get a fixed body.
	c.Logger().Error(err)
	return c.String(http.StatusInternalServerError, "internal error")
}

func healthz(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := store.Ping(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		return c.NoContent(http.StatusOK)
	}
}

func listTasks(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		var owner *uuid.UUID
		if raw := c.QueryParam("ownerId"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return c.String(http.StatusBadRequest, "invalid ownerId")
			}
			owner = &id
		}
		limit, offset := 0, 0
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return c.String(http.StatusBadRequest, "invalid limit")
			}
			limit = n
		}
		if raw := c.QueryParam("offset"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return c.String(http.StatusBadRequest, "invalid offset")
			}
			offset = n
		}

		tasks, err := store.ListTasks(ctx, owner, limit, offset)
		if err != nil {
			return storageFail(c, err)
		}
		return c.JSON(http.StatusOK, tasks)
	}
}

// taskView is a task with its relations resolved.
type taskView struct {
	domain.Task

	Owner     *domain.Member  `json:"owner,omitempty"`
	Assignees []domain.Member `json:"assignees"`
	Labels    []domain.Label  `json:"labels"`
	Subtasks  []domain.Task   `json:"subtasks"`
}

func getTask(store Storage, loaderCfg loader.Config, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger, "/api/tasks/:id")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		id, idErr := pathID(c)
		if idErr != nil {
			metrics.SetErrorStage("invalid_id")
			err = c.String(http.StatusBadRequest, "invalid id")
			return err
		}

		fetchStart := time.Now()
		task, fetchErr := store.GetTask(ctx, id)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			err = storageFail(c, fetchErr)
			return err
		}

		resolveStart := time.Now()
		loaders := loader.NewSet(ctx, store, loaderCfg)
		defer loaders.Close()
		resolver := relations.NewResolver(store, loaders)

		view := taskView{Task: task}
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		collect := func(f func() error) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := f(); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}()
		}

		collect(func() error {
			owner, err := resolver.TaskOwner(ctx, task)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				return err
			}
			mu.Lock()
			view.Owner = &owner
			mu.Unlock()
			return nil
		})
		collect(func() error {
			assignees, err := resolver.TaskAssignees(ctx, task.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			view.Assignees = assignees
			mu.Unlock()
			return nil
		})
		collect(func() error {
			labels, err := resolver.TaskLabels(ctx, task.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			view.Labels = labels
			mu.Unlock()
			return nil
		})
		collect(func() error {
			subtasks, err := resolver.TaskSubtasks(ctx, task.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			view.Subtasks = subtasks
			mu.Unlock()
			return nil
		})
		wg.Wait()
		metrics.ObserveResolve(time.Since(resolveStart))

		if len(errs) > 0 {
			metrics.SetErrorStage("resolve")
			err = storageFail(c, errs[0])
			return err
		}
		if view.Assignees == nil {
			view.Assignees = []domain.Member{}
		}
		if view.Labels == nil {
			view.Labels = []domain.Label{}
		}
		if view.Subtasks == nil {
			view.Subtasks = []domain.Task{}
		}
		resolved := len(view.Assignees) + len(view.Labels) + len(view.Subtasks)
		if view.Owner != nil {
			resolved++
		}
		metrics.SetRelationsResolved(resolved)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, view)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTask(store Storage, recorder Recorder, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger, "/api/tasks")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		owner, memberErr := memberID(c)
		if memberErr != nil {
			metrics.SetErrorStage("member_header")
			err = c.String(http.StatusBadRequest, memberErr.Error())
			return err
		}

		var input storage.CreateTaskInput
		if decodeErr := decodeBody(c, &input); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		if input.Title == "" {
			metrics.SetErrorStage("validation")
			err = c.String(http.StatusBadRequest, "title is required")
			return err
		}

		fetchStart := time.Now()
		task, createErr := store.CreateTask(ctx, owner, input)
		metrics.ObserveFetch(time.Since(fetchStart))
		if createErr != nil {
			metrics.SetErrorStage("storage")
			err = storageFail(c, createErr)
			return err
		}

		recorder.Record(owner, task.ID, domain.OperationInsert, domain.ResourceTasks,
			changelog.Diff(input, task))

		encodeStart := time.Now()
		err = c.JSON(http.StatusCreated, task)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func updateTask(store Storage, recorder Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		owner, err := memberID(c)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		id, err := pathID(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid id")
		}

		var input storage.UpdateTaskInput
		if err := decodeBody(c, &input); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		task, err := store.UpdateTask(ctx, id, input)
		if err != nil {
			return storageFail(c, err)
		}

		recorder.Record(owner, task.ID, domain.OperationUpdate, domain.ResourceTasks,
			changelog.Diff(input, task))
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(store Storage, recorder Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		owner, err := memberID(c)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		id, err := pathID(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid id")
		}

		task, err := store.DeleteTask(ctx, id)
		if err != nil {
			return storageFail(c, err)
		}

		recorder.Record(owner, task.ID, domain.OperationDelete, domain.ResourceTasks,
			changelog.Diff(nil, task))
		return c.JSON(http.StatusOK, task)
	}
}

func listChanges(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		input := storage.GetChangesInput{
			SortBy:    c.QueryParam("sortBy"),
			SortOrder: c.QueryParam("sortOrder"),
		}
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return c.String(http.StatusBadRequest, "invalid limit")
			}
			input.Limit = n
		}
		if raw := c.QueryParam("offset"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return c.String(http.StatusBadRequest, "invalid offset")
			}
			input.Offset = n
		}
		if raw := c.QueryParam("resourceType"); raw != "" {
			rt, err := domain.ParseResourceType(raw)
			if err != nil {
				return c.String(http.StatusBadRequest, err.Error())
			}
			input.Filter.ResourceType = &rt
		}
		if raw := c.QueryParam("operation"); raw != "" {
			op, err := domain.ParseOperation(raw)
			if err != nil {
				return c.String(http.StatusBadRequest, err.Error())
			}
			input.Filter.Operation = &op
		}
		if raw := c.QueryParam("ownerId"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return c.String(http.StatusBadRequest, "invalid ownerId")
			}
			input.Filter.OwnerID = &id
		}
		if raw := c.QueryParam("resourceId"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return c.String(http.StatusBadRequest, "invalid resourceId")
			}
			input.Filter.ResourceID = &id
		}

		changes, err := store.ListChanges(ctx, input)
		if err != nil {
			return storageFail(c, err)
		}
		return c.JSON(http.StatusOK, changes)
	}
}

func getChange(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid id")
		}
		change, err := store.GetChange(c.Request().Context(), id)
		if err != nil {
			return storageFail(c, err)
		}
		return c.JSON(http.StatusOK, change)
	}
}

// updateChange and deleteChange are administrative corrections of the audit
// log. They are intentionally not themselves recorded as changes.
func updateChange(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid id")
		}
		var input storage.UpdateChangeInput
		if err := decodeBody(c, &input); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		change, err := store.UpdateChange(c.Request().Context(), id, input)
		if err != nil {
			return storageFail(c, err)
		}
		return c.JSON(http.StatusOK, change)
	}
}

func deleteChange(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid id")
		}
		change, err := store.DeleteChange(c.Request().Context(), id)
		if err != nil {
			return storageFail(c, err)
		}
		return c.JSON(http.StatusOK, change)
	}
}
