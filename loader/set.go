package loader

import (
	"context"

	"github.com/google/uuid"

	"github.com/plexoapp/plexo/domain"
)

// Storage is the batched-fetch surface the loaders need from the store.
type Storage interface {
	TasksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Task, error)
	MembersByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Member, error)
	ProjectsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Project, error)
	TeamsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Team, error)
	AssetsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Asset, error)
	LabelsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Label, error)
	ChangesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Change, error)
	ChatsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Chat, error)
	MessagesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Message, error)
}

// Set is one request's loaders, one per entity type. Construct it when the
// request starts, thread it through the resolvers, close it when done.
type Set struct {
	Tasks    *Loader[domain.Task]
	Members  *Loader[domain.Member]
	Projects *Loader[domain.Project]
	Teams    *Loader[domain.Team]
	Assets   *Loader[domain.Asset]
	Labels   *Loader[domain.Label]
	Changes  *Loader[domain.Change]
	Chats    *Loader[domain.Chat]
	Messages *Loader[domain.Message]
}

// NewSet builds the loaders over the request-scoped ctx.
func NewSet(ctx context.Context, store Storage, cfg Config) *Set {
	return &Set{
		Tasks:    New(ctx, store.TasksByIDs, cfg),
		Members:  New(ctx, store.MembersByIDs, cfg),
		Projects: New(ctx, store.ProjectsByIDs, cfg),
		Teams:    New(ctx, store.TeamsByIDs, cfg),
		Assets:   New(ctx, store.AssetsByIDs, cfg),
		Labels:   New(ctx, store.LabelsByIDs, cfg),
		Changes:  New(ctx, store.ChangesByIDs, cfg),
		Chats:    New(ctx, store.ChatsByIDs, cfg),
		Messages: New(ctx, store.MessagesByIDs, cfg),
	}
}

// Close stops every loader in the set.
func (s *Set) Close() {
	s.Tasks.close()
	s.Members.close()
	s.Projects.close()
	s.Teams.close()
	s.Assets.close()
	s.Labels.close()
	s.Changes.close()
	s.Chats.close()
	s.Messages.close()
}
