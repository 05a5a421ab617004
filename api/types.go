package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/plexoapp/plexo/domain"
	"github.com/plexoapp/plexo/loader"
	"github.com/plexoapp/plexo/relations"
	"github.com/plexoapp/plexo/storage"
)

// Storage abstracts persistence for handlers. The loader and relation
// surfaces are embedded so each request can build its own resolver over the
// same store.
type Storage interface {
	loader.Storage
	relations.Store

	CreateTask(ctx context.Context, ownerID uuid.UUID, input storage.CreateTaskInput) (domain.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error)
	ListTasks(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id uuid.UUID, input storage.UpdateTaskInput) (domain.Task, error)
	DeleteTask(ctx context.Context, id uuid.UUID) (domain.Task, error)

	GetChange(ctx context.Context, id uuid.UUID) (domain.Change, error)
	ListChanges(ctx context.Context, input storage.GetChangesInput) ([]domain.Change, error)
	UpdateChange(ctx context.Context, id uuid.UUID, input storage.UpdateChangeInput) (domain.Change, error)
	DeleteChange(ctx context.Context, id uuid.UUID) (domain.Change, error)

	Ping(ctx context.Context) error
}

// Recorder accepts fire-and-forget change records after a mutation commits.
type Recorder interface {
	Record(ownerID, resourceID uuid.UUID, op domain.Operation, rt domain.ResourceType, diffJSON string)
}

// Subscription is one live change stream handed to an SSE connection.
type Subscription interface {
	Events() <-chan domain.ListenEvent
	Err() error
	Close()
}

// Streams opens change subscriptions.
type Streams interface {
	Listen(ctx context.Context, resource domain.ResourceType) (Subscription, error)
}
