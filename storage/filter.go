package storage

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/plexoapp/plexo/domain"
)

// ChangesFilter is a composable predicate over the changes table. Leaf fields
// combine with AND; And/Or nest further subtrees. A zero filter matches
// everything.
type ChangesFilter struct {
	IDs          []uuid.UUID          `json:"ids,omitempty"`
	OwnerID      *uuid.UUID           `json:"ownerId,omitempty"`
	ResourceID   *uuid.UUID           `json:"resourceId,omitempty"`
	Operation    *domain.Operation    `json:"operation,omitempty"`
	ResourceType *domain.ResourceType `json:"resourceType,omitempty"`

	And []ChangesFilter `json:"and,omitempty"`
	Or  []ChangesFilter `json:"or,omitempty"`
}

// Empty reports whether the filter constrains nothing.
func (f ChangesFilter) Empty() bool {
	return len(f.IDs) == 0 && f.OwnerID == nil && f.ResourceID == nil &&
		f.Operation == nil && f.ResourceType == nil && len(f.And) == 0 && len(f.Or) == 0
}

// compile renders the filter as a parameterized SQL fragment, appending bind
// values to args. Placeholders continue from the current length of args.
func (f ChangesFilter) compile(args *[]any) string {
	bind := func(v any) string {
		*args = append(*args, v)
		return "$" + strconv.Itoa(len(*args))
	}

	var andClauses, orClauses []string

	if len(f.IDs) > 0 {
		andClauses = append(andClauses, "id = ANY("+bind(uuidStrings(f.IDs))+"::uuid[])")
	}
	if f.OwnerID != nil {
		andClauses = append(andClauses, "owner_id = "+bind(*f.OwnerID))
	}
	if f.ResourceID != nil {
		andClauses = append(andClauses, "resource_id = "+bind(*f.ResourceID))
	}
	if f.Operation != nil {
		andClauses = append(andClauses, "operation = "+bind(f.Operation.String()))
	}
	if f.ResourceType != nil {
		andClauses = append(andClauses, "resource_type = "+bind(f.ResourceType.String()))
	}
	for _, sub := range f.And {
		if clause := sub.compile(args); clause != "" {
			andClauses = append(andClauses, clause)
		}
	}
	for _, sub := range f.Or {
		if clause := sub.compile(args); clause != "" {
			orClauses = append(orClauses, clause)
		}
	}

	var b strings.Builder
	if len(andClauses) > 0 {
		b.WriteString("(" + strings.Join(andClauses, " AND ") + ")")
	}
	if len(orClauses) > 0 {
		if b.Len() > 0 {
			b.WriteString(" OR ")
		}
		b.WriteString("(" + strings.Join(orClauses, " OR ") + ")")
	}
	return b.String()
}
