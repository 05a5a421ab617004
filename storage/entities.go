package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/plexoapp/plexo/domain"
)

// Batched by-id fetchers, one per entity type. Each issues a single
// `id = ANY(...)` query; these are the storage side of the loader batcher.

func batchByIDs[T any](
	ctx context.Context,
	s *Storage,
	op, query string,
	ids []uuid.UUID,
	scan func(pgx.Row) (T, error),
	key func(T) uuid.UUID,
) (map[uuid.UUID]T, error) {
	rows, err := s.pool.Query(ctx, query, uuidStrings(ids))
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]T, len(ids))
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		out[key(v)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return out, nil
}

func scanMember(row pgx.Row) (domain.Member, error) {
	var m domain.Member
	err := row.Scan(
		&m.ID, &m.CreatedAt, &m.UpdatedAt,
		&m.Name, &m.Email, &m.Role,
		&m.GithubID, &m.GoogleID, &m.PhotoURL,
	)
	return m, err
}

// MembersByIDs fetches the given members in one round trip, keyed by id.
func (s *Storage) MembersByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Member, error) {
	return batchByIDs(ctx, s, "members by ids", `
		SELECT id, created_at, updated_at, name, email, role, github_id, google_id, photo_url
		FROM members WHERE id = ANY($1::uuid[])`,
		ids, scanMember, func(m domain.Member) uuid.UUID { return m.ID })
}

func scanProject(row pgx.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(
		&p.ID, &p.CreatedAt, &p.UpdatedAt,
		&p.Name, &p.Status, &p.Visibility, &p.OwnerID,
		&p.Prefix, &p.Description, &p.LeadID, &p.StartDate, &p.DueDate,
	)
	return p, err
}

// ProjectsByIDs fetches the given projects in one round trip, keyed by id.
func (s *Storage) ProjectsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Project, error) {
	return batchByIDs(ctx, s, "projects by ids", `
		SELECT id, created_at, updated_at, name, status, visibility, owner_id, prefix, description, lead_id, start_date, due_date
		FROM projects WHERE id = ANY($1::uuid[])`,
		ids, scanProject, func(p domain.Project) uuid.UUID { return p.ID })
}

func scanTeam(row pgx.Row) (domain.Team, error) {
	var t domain.Team
	err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.Name, &t.OwnerID, &t.Visibility, &t.Prefix)
	return t, err
}

// TeamsByIDs fetches the given teams in one round trip, keyed by id.
func (s *Storage) TeamsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Team, error) {
	return batchByIDs(ctx, s, "teams by ids", `
		SELECT id, created_at, updated_at, name, owner_id, visibility, prefix
		FROM teams WHERE id = ANY($1::uuid[])`,
		ids, scanTeam, func(t domain.Team) uuid.UUID { return t.ID })
}

func scanLabel(row pgx.Row) (domain.Label, error) {
	var l domain.Label
	err := row.Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt, &l.Name, &l.OwnerID, &l.Description, &l.Color)
	return l, err
}

// LabelsByIDs fetches the given labels in one round trip, keyed by id.
func (s *Storage) LabelsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Label, error) {
	return batchByIDs(ctx, s, "labels by ids", `
		SELECT id, created_at, updated_at, name, owner_id, description, color
		FROM labels WHERE id = ANY($1::uuid[])`,
		ids, scanLabel, func(l domain.Label) uuid.UUID { return l.ID })
}

func scanAsset(row pgx.Row) (domain.Asset, error) {
	var a domain.Asset
	err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.Name, &a.Kind, &a.OwnerID, &a.ProjectID)
	return a, err
}

// AssetsByIDs fetches the given assets in one round trip, keyed by id.
func (s *Storage) AssetsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Asset, error) {
	return batchByIDs(ctx, s, "assets by ids", `
		SELECT id, created_at, updated_at, name, kind, owner_id, project_id
		FROM assets WHERE id = ANY($1::uuid[])`,
		ids, scanAsset, func(a domain.Asset) uuid.UUID { return a.ID })
}

func scanChat(row pgx.Row) (domain.Chat, error) {
	var c domain.Chat
	err := row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &c.OwnerID, &c.ResourceID, &c.ResourceType, &c.Status)
	return c, err
}

// ChatsByIDs fetches the given chats in one round trip, keyed by id.
func (s *Storage) ChatsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Chat, error) {
	return batchByIDs(ctx, s, "chats by ids", `
		SELECT id, created_at, updated_at, owner_id, resource_id, resource_type, status
		FROM chats WHERE id = ANY($1::uuid[])`,
		ids, scanChat, func(c domain.Chat) uuid.UUID { return c.ID })
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt, &m.OwnerID, &m.ChatID, &m.Content, &m.Status, &m.ParentID)
	return m, err
}

// MessagesByIDs fetches the given messages in one round trip, keyed by id.
func (s *Storage) MessagesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Message, error) {
	return batchByIDs(ctx, s, "messages by ids", `
		SELECT id, created_at, updated_at, owner_id, chat_id, content, status, parent_id
		FROM messages WHERE id = ANY($1::uuid[])`,
		ids, scanMessage, func(m domain.Message) uuid.UUID { return m.ID })
}

// Join-table id queries. These deliberately return only ids: relation
// resolution stays two-stage so the loader can coalesce the entity fetch
// across every parent being resolved concurrently.

func (s *Storage) idColumn(ctx context.Context, op, query string, arg any) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return ids, nil
}

// TaskAssigneeIDs lists the member ids assigned to a task.
func (s *Storage) TaskAssigneeIDs(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	return s.idColumn(ctx, "task assignees",
		`SELECT assignee_id FROM tasks_by_assignees WHERE task_id = $1`, taskID)
}

// TaskLabelIDs lists the label ids attached to a task.
func (s *Storage) TaskLabelIDs(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	return s.idColumn(ctx, "task labels",
		`SELECT label_id FROM labels_by_tasks WHERE task_id = $1`, taskID)
}

// SubtaskIDs lists the ids of a task's direct subtasks.
func (s *Storage) SubtaskIDs(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	return s.idColumn(ctx, "subtasks",
		`SELECT id FROM tasks WHERE parent_id = $1`, taskID)
}

// ProjectMemberIDs lists the member ids belonging to a project.
func (s *Storage) ProjectMemberIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	return s.idColumn(ctx, "project members",
		`SELECT member_id FROM members_by_projects WHERE project_id = $1`, projectID)
}

// ProjectTeamIDs lists the team ids attached to a project.
func (s *Storage) ProjectTeamIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	return s.idColumn(ctx, "project teams",
		`SELECT team_id FROM teams_by_projects WHERE project_id = $1`, projectID)
}

// TeamMemberIDs lists the member ids belonging to a team.
func (s *Storage) TeamMemberIDs(ctx context.Context, teamID uuid.UUID) ([]uuid.UUID, error) {
	return s.idColumn(ctx, "team members",
		`SELECT member_id FROM members_by_teams WHERE team_id = $1`, teamID)
}

// ChatMessageIDs lists the message ids of a chat.
func (s *Storage) ChatMessageIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	return s.idColumn(ctx, "chat messages",
		`SELECT id FROM messages WHERE chat_id = $1`, chatID)
}
