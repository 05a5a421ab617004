// Package relations resolves cross-entity relationships through the loader
// set. Many-to-many relations are deliberately two-stage: a join-table query
// for the related ids, then a batched load — so the entity fetch still
// coalesces across every parent being resolved concurrently.
package relations

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/plexoapp/plexo/domain"
	"github.com/plexoapp/plexo/loader"
)

// Store is the join-table and direct-query surface the resolver needs.
type Store interface {
	TaskAssigneeIDs(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error)
	TaskLabelIDs(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error)
	SubtaskIDs(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error)
	ProjectMemberIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error)
	ProjectTeamIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error)
	TeamMemberIDs(ctx context.Context, teamID uuid.UUID) ([]uuid.UUID, error)
	ChatMessageIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error)
	ChangesForResource(ctx context.Context, resourceID uuid.UUID) ([]domain.Change, error)
}

// Resolver answers relation lookups for one request, over that request's
// loader set.
type Resolver struct {
	store   Store
	loaders *loader.Set
}

// NewResolver pairs a store with a per-request loader set.
func NewResolver(store Store, loaders *loader.Set) *Resolver {
	return &Resolver{store: store, loaders: loaders}
}

// optional maps a dangling or absent reference to nil instead of an error.
func optional[T any](v T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// TaskOwner resolves the owning member. A dangling owner reference is a
// NotFound error: every task must have an owner.
func (r *Resolver) TaskOwner(ctx context.Context, task domain.Task) (domain.Member, error) {
	return r.loaders.Members.LoadOne(ctx, task.OwnerID)
}

// TaskProject resolves the task's project, nil when unset or dangling.
func (r *Resolver) TaskProject(ctx context.Context, task domain.Task) (*domain.Project, error) {
	if task.ProjectID == nil {
		return nil, nil
	}
	return optional(r.loaders.Projects.LoadOne(ctx, *task.ProjectID))
}

// TaskLead resolves the task's lead, nil when unset or dangling.
func (r *Resolver) TaskLead(ctx context.Context, task domain.Task) (*domain.Member, error) {
	if task.LeadID == nil {
		return nil, nil
	}
	return optional(r.loaders.Members.LoadOne(ctx, *task.LeadID))
}

// TaskParent resolves the parent task, nil when unset or dangling.
func (r *Resolver) TaskParent(ctx context.Context, task domain.Task) (*domain.Task, error) {
	if task.ParentID == nil {
		return nil, nil
	}
	return optional(r.loaders.Tasks.LoadOne(ctx, *task.ParentID))
}

// loadInOrder is the second stage of a many-to-many resolution: batch-load the
// ids and keep the join table's order, skipping dangling references.
func loadInOrder[T any](ctx context.Context, l *loader.Loader[T], ids []uuid.UUID) ([]T, error) {
	byID, err := l.LoadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// TaskAssignees resolves the members assigned to the task.
func (r *Resolver) TaskAssignees(ctx context.Context, taskID uuid.UUID) ([]domain.Member, error) {
	ids, err := r.store.TaskAssigneeIDs(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return loadInOrder(ctx, r.loaders.Members, ids)
}

// TaskLabels resolves the labels attached to the task.
func (r *Resolver) TaskLabels(ctx context.Context, taskID uuid.UUID) ([]domain.Label, error) {
	ids, err := r.store.TaskLabelIDs(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return loadInOrder(ctx, r.loaders.Labels, ids)
}

// TaskSubtasks resolves the task's direct subtasks.
func (r *Resolver) TaskSubtasks(ctx context.Context, taskID uuid.UUID) ([]domain.Task, error) {
	ids, err := r.store.SubtaskIDs(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return loadInOrder(ctx, r.loaders.Tasks, ids)
}

// TaskChanges lists the change rows recorded against the task.
func (r *Resolver) TaskChanges(ctx context.Context, taskID uuid.UUID) ([]domain.Change, error) {
	return r.store.ChangesForResource(ctx, taskID)
}

// ProjectMembers resolves a project's members.
func (r *Resolver) ProjectMembers(ctx context.Context, projectID uuid.UUID) ([]domain.Member, error) {
	ids, err := r.store.ProjectMemberIDs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return loadInOrder(ctx, r.loaders.Members, ids)
}

// ProjectTeams resolves the teams attached to a project.
func (r *Resolver) ProjectTeams(ctx context.Context, projectID uuid.UUID) ([]domain.Team, error) {
	ids, err := r.store.ProjectTeamIDs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return loadInOrder(ctx, r.loaders.Teams, ids)
}

// TeamMembers resolves a team's members.
func (r *Resolver) TeamMembers(ctx context.Context, teamID uuid.UUID) ([]domain.Member, error) {
	ids, err := r.store.TeamMemberIDs(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return loadInOrder(ctx, r.loaders.Members, ids)
}

// ChatMessages resolves a chat's messages.
func (r *Resolver) ChatMessages(ctx context.Context, chatID uuid.UUID) ([]domain.Message, error) {
	ids, err := r.store.ChatMessageIDs(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return loadInOrder(ctx, r.loaders.Messages, ids)
}
