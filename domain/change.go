package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Operation identifies the kind of mutation a change records.
type Operation string

const (
	OperationInsert Operation = "Insert"
	OperationUpdate Operation = "Update"
	OperationDelete Operation = "Delete"
)

// ParseOperation parses the wire form of an operation. Matching is
// case-insensitive, the canonical spelling is returned.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(s) {
	case "insert":
		return OperationInsert, nil
	case "update":
		return OperationUpdate, nil
	case "delete":
		return OperationDelete, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

func (o Operation) String() string { return string(o) }

// ResourceType tags which entity kind a change or subscription concerns.
type ResourceType string

const (
	ResourceTasks    ResourceType = "Tasks"
	ResourceProjects ResourceType = "Projects"
	ResourceMembers  ResourceType = "Members"
	ResourceTeams    ResourceType = "Teams"
	ResourceAssets   ResourceType = "Assets"
	ResourceLabels   ResourceType = "Labels"
	ResourceChanges  ResourceType = "Changes"
)

// ResourceTypes lists every change-tracked resource tag.
var ResourceTypes = []ResourceType{
	ResourceTasks,
	ResourceProjects,
	ResourceMembers,
	ResourceTeams,
	ResourceAssets,
	ResourceLabels,
	ResourceChanges,
}

// ParseResourceType parses the wire form of a resource type,
// case-insensitively.
func ParseResourceType(s string) (ResourceType, error) {
	lower := strings.ToLower(s)
	for _, rt := range ResourceTypes {
		if lower == strings.ToLower(string(rt)) {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

func (r ResourceType) String() string { return string(r) }

// Channel returns the notification channel for the resource type.
func (r ResourceType) Channel() string {
	return strings.ToLower(string(r)) + "_table_update"
}

// Change is one audit-log row: a single insert/update/delete against a tracked
// resource. Rows are append-only; ResourceID may point at an entity that has
// since been deleted.
type Change struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	OwnerID    uuid.UUID `json:"ownerId"`
	ResourceID uuid.UUID `json:"resourceId"`

	Operation    Operation    `json:"operation"`
	ResourceType ResourceType `json:"resourceType"`

	// DiffJSON is an opaque JSON string, typically {"input":…,"result":…}.
	// It is stored as given and never validated on write.
	DiffJSON string `json:"diffJson"`
}
