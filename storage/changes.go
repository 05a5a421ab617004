package storage

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/plexoapp/plexo/domain"
)

// CreateChangeInput carries the fields for one change-log row. DiffJSON is
// opaque: it is the caller's job to produce valid JSON.
type CreateChangeInput struct {
	OwnerID    uuid.UUID `json:"ownerId"`
	ResourceID uuid.UUID `json:"resourceId"`

	Operation    domain.Operation    `json:"operation"`
	ResourceType domain.ResourceType `json:"resourceType"`

	DiffJSON string `json:"diffJson"`
}

// UpdateChangeInput is a partial, administrative correction of a change row.
type UpdateChangeInput struct {
	OwnerID    *uuid.UUID `json:"ownerId,omitempty"`
	ResourceID *uuid.UUID `json:"resourceId,omitempty"`

	Operation    *domain.Operation    `json:"operation,omitempty"`
	ResourceType *domain.ResourceType `json:"resourceType,omitempty"`

	DiffJSON *string `json:"diffJson,omitempty"`
}

// GetChangesInput selects and orders change rows.
type GetChangesInput struct {
	Filter ChangesFilter `json:"filter,omitempty"`

	SortBy    string `json:"sortBy,omitempty"`
	SortOrder string `json:"sortOrder,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Sortable columns of the changes table. Sort input is checked against this
// set so it never reaches the query raw.
var changeSortColumns = map[string]struct{}{
	"created_at":    {},
	"updated_at":    {},
	"owner_id":      {},
	"resource_id":   {},
	"operation":     {},
	"resource_type": {},
}

const changeColumns = `id, created_at, updated_at, owner_id, resource_id, operation, resource_type, diff_json`

func scanChange(row pgx.Row) (domain.Change, error) {
	var c domain.Change
	var operation, resourceType string
	err := row.Scan(
		&c.ID, &c.CreatedAt, &c.UpdatedAt,
		&c.OwnerID, &c.ResourceID,
		&operation, &resourceType, &c.DiffJSON,
	)
	if err != nil {
		return domain.Change{}, err
	}
	if c.Operation, err = domain.ParseOperation(operation); err != nil {
		return domain.Change{}, err
	}
	if c.ResourceType, err = domain.ParseResourceType(resourceType); err != nil {
		return domain.Change{}, err
	}
	return c, nil
}

// CreateChange appends one row to the change log and then publishes the
// notification for it. The publish happens strictly after the insert has
// committed; a publish failure is logged and does not fail the record.
func (s *Storage) CreateChange(ctx context.Context, input CreateChangeInput) (domain.Change, error) {
	change, err := scanChange(s.pool.QueryRow(ctx, `
		INSERT INTO changes (owner_id, resource_id, operation, resource_type, diff_json)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+changeColumns,
		input.OwnerID, input.ResourceID,
		input.Operation.String(), input.ResourceType.String(), input.DiffJSON,
	))
	if err != nil {
		return domain.Change{}, wrapErr("create change", err)
	}

	event := domain.ListenEvent{
		Resource:  change.ResourceType,
		Operation: change.Operation,
		RowID:     change.ResourceID,
	}
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`,
		change.ResourceType.Channel(), event.Payload()); err != nil {
		s.logger.WithError(err).Warnf("notify %s failed for change %s", change.ResourceType.Channel(), change.ID)
	}
	return change, nil
}

// GetChange fetches one change by id.
func (s *Storage) GetChange(ctx context.Context, id uuid.UUID) (domain.Change, error) {
	change, err := scanChange(s.pool.QueryRow(ctx,
		`SELECT `+changeColumns+` FROM changes WHERE id = $1`, id))
	if err != nil {
		if noRows(err) {
			return domain.Change{}, domain.ErrNotFound
		}
		return domain.Change{}, wrapErr("get change", err)
	}
	return change, nil
}

// buildChangesQuery renders the list query; split out so the SQL shape is
// testable without a database.
func buildChangesQuery(input GetChangesInput) (string, []any, error) {
	query := `SELECT ` + changeColumns + ` FROM changes `
	args := []any{}

	if !input.Filter.Empty() {
		if clause := input.Filter.compile(&args); clause != "" {
			query += `WHERE ` + clause + ` `
		}
	}
	if input.SortBy != "" {
		if _, ok := changeSortColumns[input.SortBy]; !ok {
			return "", nil, wrapErr("list changes", errBadSortColumn(input.SortBy))
		}
		query += `ORDER BY ` + input.SortBy + ` `
		switch input.SortOrder {
		case "", "Asc":
			query += `ASC `
		case "Desc":
			query += `DESC `
		default:
			return "", nil, wrapErr("list changes", errBadSortOrder(input.SortOrder))
		}
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}
	query += `LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset)
	return query, args, nil
}

// ListChanges returns change rows matching the input. Without SortBy the row
// order is unspecified.
func (s *Storage) ListChanges(ctx context.Context, input GetChangesInput) ([]domain.Change, error) {
	query, args, err := buildChangesQuery(input)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list changes", err)
	}
	defer rows.Close()

	changes := []domain.Change{}
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, wrapErr("list changes", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list changes", err)
	}
	return changes, nil
}

// UpdateChange is an administrative correction. It is deliberately not
// recorded in the change log itself.
func (s *Storage) UpdateChange(ctx context.Context, id uuid.UUID, input UpdateChangeInput) (domain.Change, error) {
	var operation, resourceType *string
	if input.Operation != nil {
		v := input.Operation.String()
		operation = &v
	}
	if input.ResourceType != nil {
		v := input.ResourceType.String()
		resourceType = &v
	}

	change, err := scanChange(s.pool.QueryRow(ctx, `
		UPDATE changes SET
			owner_id      = COALESCE($1, owner_id),
			resource_id   = COALESCE($2, resource_id),
			operation     = COALESCE($3, operation),
			resource_type = COALESCE($4, resource_type),
			diff_json     = COALESCE($5, diff_json),
			updated_at    = now()
		WHERE id = $6
		RETURNING `+changeColumns,
		input.OwnerID, input.ResourceID, operation, resourceType, input.DiffJSON, id,
	))
	if err != nil {
		if noRows(err) {
			return domain.Change{}, domain.ErrNotFound
		}
		return domain.Change{}, wrapErr("update change", err)
	}
	return change, nil
}

// DeleteChange is an administrative removal, also not itself recorded.
func (s *Storage) DeleteChange(ctx context.Context, id uuid.UUID) (domain.Change, error) {
	change, err := scanChange(s.pool.QueryRow(ctx,
		`DELETE FROM changes WHERE id = $1 RETURNING `+changeColumns, id))
	if err != nil {
		if noRows(err) {
			return domain.Change{}, domain.ErrNotFound
		}
		return domain.Change{}, wrapErr("delete change", err)
	}
	return change, nil
}

// ChangesForResource lists every change recorded against one resource id.
func (s *Storage) ChangesForResource(ctx context.Context, resourceID uuid.UUID) ([]domain.Change, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+changeColumns+` FROM changes WHERE resource_id = $1`, resourceID)
	if err != nil {
		return nil, wrapErr("changes for resource", err)
	}
	defer rows.Close()

	changes := []domain.Change{}
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, wrapErr("changes for resource", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("changes for resource", err)
	}
	return changes, nil
}

// ChangesByIDs fetches the given changes in one round trip, keyed by id.
func (s *Storage) ChangesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Change, error) {
	return batchByIDs(ctx, s, "changes by ids",
		`SELECT `+changeColumns+` FROM changes WHERE id = ANY($1::uuid[])`,
		ids, scanChange, func(c domain.Change) uuid.UUID { return c.ID })
}

type errBadSortColumn string

func (e errBadSortColumn) Error() string { return "unsortable column " + strconv.Quote(string(e)) }

type errBadSortOrder string

func (e errBadSortOrder) Error() string { return "bad sort order " + strconv.Quote(string(e)) }
