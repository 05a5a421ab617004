package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ListenEvent is a parsed real-time notification describing one change. It is
// transient: produced from a notification payload, consumed by a subscriber,
// never persisted.
type ListenEvent struct {
	Resource  ResourceType `json:"resource"`
	Operation Operation    `json:"operation"`
	RowID     uuid.UUID    `json:"rowId"`
}

// Payload renders the event in the wire format published on the notification
// channel: "<ResourceType> <Operation> <row_id>".
func (e ListenEvent) Payload() string {
	return fmt.Sprintf("%s %s %s", e.Resource, e.Operation, e.RowID)
}

// ParseListenEvent parses a notification payload. The payload is exactly three
// whitespace-delimited tokens; anything else is malformed.
func ParseListenEvent(payload string) (ListenEvent, error) {
	fields := strings.Fields(payload)
	if len(fields) != 3 {
		return ListenEvent{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}
	resource, err := ParseResourceType(fields[0])
	if err != nil {
		return ListenEvent{}, err
	}
	operation, err := ParseOperation(fields[1])
	if err != nil {
		return ListenEvent{}, err
	}
	rowID, err := uuid.Parse(fields[2])
	if err != nil {
		return ListenEvent{}, fmt.Errorf("bad row id %q: %w", fields[2], err)
	}
	return ListenEvent{Resource: resource, Operation: operation, RowID: rowID}, nil
}
