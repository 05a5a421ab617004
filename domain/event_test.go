package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestPayloadRoundTrip(t *testing.T) {
	for _, rt := range ResourceTypes {
		for _, op := range []Operation{OperationInsert, OperationUpdate, OperationDelete} {
			event := ListenEvent{Resource: rt, Operation: op, RowID: uuid.New()}
			parsed, err := ParseListenEvent(event.Payload())
			if err != nil {
				t.Fatalf("parse %q: %v", event.Payload(), err)
			}
			if parsed != event {
				t.Fatalf("round trip changed event: %+v != %+v", parsed, event)
			}
		}
	}
}

func TestPayloadFormat(t *testing.T) {
	id := uuid.MustParse("3f2f1a8e-0000-4000-8000-000000000001")
	event := ListenEvent{Resource: ResourceTasks, Operation: OperationUpdate, RowID: id}
	want := "Tasks Update 3f2f1a8e-0000-4000-8000-000000000001"
	if got := event.Payload(); got != want {
		t.Fatalf("payload = %q, want %q", got, want)
	}
}

func TestParseListenEventMalformed(t *testing.T) {
	cases := []string{
		"",
		"Tasks Insert",
		"Tasks Insert extra " + uuid.NewString(),
		"Widgets Insert " + uuid.NewString(),
		"Tasks Upserted " + uuid.NewString(),
		"Tasks Insert not-a-uuid",
	}
	for _, payload := range cases {
		if _, err := ParseListenEvent(payload); err == nil {
			t.Fatalf("expected parse error for %q", payload)
		}
	}
}

func TestParseListenEventCaseInsensitive(t *testing.T) {
	id := uuid.New()
	event, err := ParseListenEvent("tasks INSERT " + id.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Resource != ResourceTasks || event.Operation != OperationInsert || event.RowID != id {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestChannelNaming(t *testing.T) {
	want := map[ResourceType]string{
		ResourceTasks:    "tasks_table_update",
		ResourceProjects: "projects_table_update",
		ResourceMembers:  "members_table_update",
		ResourceTeams:    "teams_table_update",
		ResourceAssets:   "assets_table_update",
		ResourceLabels:   "labels_table_update",
		ResourceChanges:  "changes_table_update",
	}
	for rt, channel := range want {
		if got := rt.Channel(); got != channel {
			t.Fatalf("%s channel = %q, want %q", rt, got, channel)
		}
	}
}

func TestParseResourceTypeCanonicalizes(t *testing.T) {
	rt, err := ParseResourceType("PROJECTS")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rt != ResourceProjects {
		t.Fatalf("got %q, want canonical %q", rt, ResourceProjects)
	}
	if strings.ToLower(string(rt)) == string(rt) {
		t.Fatal("canonical spelling should keep its capitalization")
	}
}

func TestParseOperationRejectsUnknown(t *testing.T) {
	if _, err := ParseOperation("upsert"); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}
