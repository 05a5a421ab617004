package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/plexoapp/plexo/domain"
)

// CreateTaskInput carries the fields for a task insert. Optional columns are
// pointers and stay NULL when nil.
type CreateTaskInput struct {
	Title    string `json:"title"`
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`

	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	ProjectID   *uuid.UUID `json:"projectId,omitempty"`
	LeadID      *uuid.UUID `json:"leadId,omitempty"`
	ParentID    *uuid.UUID `json:"parentId,omitempty"`

	AssigneeIDs []uuid.UUID `json:"assigneeIds,omitempty"`
	LabelIDs    []uuid.UUID `json:"labelIds,omitempty"`
}

// UpdateTaskInput carries a partial task update; nil fields are left as-is.
type UpdateTaskInput struct {
	Title    *string `json:"title,omitempty"`
	Status   *string `json:"status,omitempty"`
	Priority *string `json:"priority,omitempty"`

	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	ProjectID   *uuid.UUID `json:"projectId,omitempty"`
	LeadID      *uuid.UUID `json:"leadId,omitempty"`
	ParentID    *uuid.UUID `json:"parentId,omitempty"`
}

const taskColumns = `id, created_at, updated_at, title, owner_id, status, priority, count, description, due_date, project_id, lead_id, parent_id`

func scanTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(
		&t.ID, &t.CreatedAt, &t.UpdatedAt,
		&t.Title, &t.OwnerID, &t.Status, &t.Priority, &t.Count,
		&t.Description, &t.DueDate, &t.ProjectID, &t.LeadID, &t.ParentID,
	)
	return t, err
}

// CreateTask inserts the task and its assignee/label join rows in one
// transaction: a failed join insert (a dangling assignee or label id) rolls
// the task row back too, never leaving a partially created task behind.
func (s *Storage) CreateTask(ctx context.Context, ownerID uuid.UUID, input CreateTaskInput) (domain.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Task{}, wrapErr("create task", err)
	}
	defer tx.Rollback(ctx)

	task, err := insertTask(ctx, tx, ownerID, input)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Task{}, wrapErr("create task", err)
	}
	return task, nil
}

// querier is the query surface shared by the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertTask(ctx context.Context, q querier, ownerID uuid.UUID, input CreateTaskInput) (domain.Task, error) {
	status := input.Status
	if status == "" {
		status = domain.TaskStatusNone
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TaskPriorityNone
	}

	task, err := scanTask(q.QueryRow(ctx, `
		INSERT INTO tasks (title, owner_id, status, priority, description, due_date, project_id, lead_id, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+taskColumns,
		input.Title, ownerID, status, priority,
		input.Description, input.DueDate, input.ProjectID, input.LeadID, input.ParentID,
	))
	if err != nil {
		return domain.Task{}, wrapErr("create task", err)
	}

	for _, assignee := range input.AssigneeIDs {
		if _, err := q.Exec(ctx, `
			INSERT INTO tasks_by_assignees (task_id, assignee_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, task.ID, assignee); err != nil {
			return domain.Task{}, wrapErr("assign task", err)
		}
	}
	for _, label := range input.LabelIDs {
		if _, err := q.Exec(ctx, `
			INSERT INTO labels_by_tasks (label_id, task_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, label, task.ID); err != nil {
			return domain.Task{}, wrapErr("label task", err)
		}
	}
	return task, nil
}

// GetTask fetches one task by id.
func (s *Storage) GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	task, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		if noRows(err) {
			return domain.Task{}, domain.ErrNotFound
		}
		return domain.Task{}, wrapErr("get task", err)
	}
	return task, nil
}

// ListTasks returns tasks, optionally restricted to an owner, newest first.
func (s *Storage) ListTasks(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + ` FROM tasks `
	args := []any{}
	if ownerID != nil {
		query += `WHERE owner_id = $1 `
		args = append(args, *ownerID)
	}
	query += `ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list tasks", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrapErr("list tasks", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list tasks", err)
	}
	return tasks, nil
}

// UpdateTask applies a partial update and returns the resulting row.
func (s *Storage) UpdateTask(ctx context.Context, id uuid.UUID, input UpdateTaskInput) (domain.Task, error) {
	task, err := scanTask(s.pool.QueryRow(ctx, `
		UPDATE tasks SET
			title       = COALESCE($1, title),
			status      = COALESCE($2, status),
			priority    = COALESCE($3, priority),
			description = COALESCE($4, description),
			due_date    = COALESCE($5, due_date),
			project_id  = COALESCE($6, project_id),
			lead_id     = COALESCE($7, lead_id),
			parent_id   = COALESCE($8, parent_id),
			updated_at  = now()
		WHERE id = $9
		RETURNING `+taskColumns,
		input.Title, input.Status, input.Priority,
		input.Description, input.DueDate, input.ProjectID, input.LeadID, input.ParentID,
		id,
	))
	if err != nil {
		if noRows(err) {
			return domain.Task{}, domain.ErrNotFound
		}
		return domain.Task{}, wrapErr("update task", err)
	}
	return task, nil
}

// DeleteTask removes the task and returns the deleted row.
func (s *Storage) DeleteTask(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	task, err := scanTask(s.pool.QueryRow(ctx,
		`DELETE FROM tasks WHERE id = $1 RETURNING `+taskColumns, id))
	if err != nil {
		if noRows(err) {
			return domain.Task{}, domain.ErrNotFound
		}
		return domain.Task{}, wrapErr("delete task", err)
	}
	return task, nil
}

// TasksByIDs fetches the given tasks in one round trip, keyed by id. Ids with
// no row are simply absent from the result.
func (s *Storage) TasksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ANY($1::uuid[])`, uuidStrings(ids))
	if err != nil {
		return nil, wrapErr("tasks by ids", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]domain.Task, len(ids))
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrapErr("tasks by ids", err)
		}
		out[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("tasks by ids", err)
	}
	return out, nil
}
