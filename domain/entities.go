package domain

import (
	"time"

	"github.com/google/uuid"
)

// Entity records are plain relational rows. They are owned by the database and
// mutated only through the CRUD layer; the loader and change subsystems refer
// to them by id and resource-type tag.

type Task struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Title    string    `json:"title"`
	OwnerID  uuid.UUID `json:"ownerId"`
	Status   string    `json:"status"`
	Priority string    `json:"priority"`
	Count    int32     `json:"count"`

	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	ProjectID   *uuid.UUID `json:"projectId,omitempty"`
	LeadID      *uuid.UUID `json:"leadId,omitempty"`
	ParentID    *uuid.UUID `json:"parentId,omitempty"`
}

// Task status and priority values.
const (
	TaskStatusNone       = "None"
	TaskStatusDraft      = "Draft"
	TaskStatusBacklog    = "Backlog"
	TaskStatusToDo       = "ToDo"
	TaskStatusInProgress = "InProgress"
	TaskStatusDone       = "Done"
	TaskStatusCanceled   = "Canceled"

	TaskPriorityNone   = "None"
	TaskPriorityLow    = "Low"
	TaskPriorityMedium = "Medium"
	TaskPriorityHigh   = "High"
	TaskPriorityUrgent = "Urgent"
)

type Project struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Visibility string    `json:"visibility"`
	OwnerID    uuid.UUID `json:"ownerId"`

	Prefix      *string    `json:"prefix,omitempty"`
	Description *string    `json:"description,omitempty"`
	LeadID      *uuid.UUID `json:"leadId,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

type Member struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`

	GithubID *string `json:"githubId,omitempty"`
	GoogleID *string `json:"googleId,omitempty"`
	PhotoURL *string `json:"photoUrl,omitempty"`
}

type Team struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name       string    `json:"name"`
	OwnerID    uuid.UUID `json:"ownerId"`
	Visibility string    `json:"visibility"`

	Prefix *string `json:"prefix,omitempty"`
}

type Label struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name    string    `json:"name"`
	OwnerID uuid.UUID `json:"ownerId"`

	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
}

type Asset struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name    string    `json:"name"`
	Kind    string    `json:"kind"`
	OwnerID uuid.UUID `json:"ownerId"`

	ProjectID *uuid.UUID `json:"projectId,omitempty"`
}

type Chat struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	OwnerID      uuid.UUID `json:"ownerId"`
	ResourceID   uuid.UUID `json:"resourceId"`
	ResourceType string    `json:"resourceType"`
	Status       string    `json:"status"`
}

type Message struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	OwnerID uuid.UUID `json:"ownerId"`
	ChatID  uuid.UUID `json:"chatId"`
	Content string    `json:"content"`
	Status  string    `json:"status"`

	ParentID *uuid.UUID `json:"parentId,omitempty"`
}
