package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/plexoapp/plexo/domain"
	"github.com/plexoapp/plexo/loader"
	"github.com/plexoapp/plexo/storage"
)

// fakeStore is an in-memory Storage. Batched fetches count their calls so
// tests can assert the loader path actually coalesced.
type fakeStore struct {
	mu sync.Mutex

	tasks   map[uuid.UUID]domain.Task
	members map[uuid.UUID]domain.Member
	labels  map[uuid.UUID]domain.Label
	changes map[uuid.UUID]domain.Change

	assignees map[uuid.UUID][]uuid.UUID
	taskLabel map[uuid.UUID][]uuid.UUID
	subtasks  map[uuid.UUID][]uuid.UUID

	memberFetches atomic.Int32

	listChangesInput storage.GetChangesInput
	pingErr          error
	getTaskErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:     map[uuid.UUID]domain.Task{},
		members:   map[uuid.UUID]domain.Member{},
		labels:    map[uuid.UUID]domain.Label{},
		changes:   map[uuid.UUID]domain.Change{},
		assignees: map[uuid.UUID][]uuid.UUID{},
		taskLabel: map[uuid.UUID][]uuid.UUID{},
		subtasks:  map[uuid.UUID][]uuid.UUID{},
	}
}

func pickByIDs[T any](mu *sync.Mutex, src map[uuid.UUID]T, ids []uuid.UUID) map[uuid.UUID]T {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[uuid.UUID]T, len(ids))
	for _, id := range ids {
		if v, ok := src[id]; ok {
			out[id] = v
		}
	}
	return out
}

func (f *fakeStore) TasksByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Task, error) {
	return pickByIDs(&f.mu, f.tasks, ids), nil
}

func (f *fakeStore) MembersByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Member, error) {
	f.memberFetches.Add(1)
	return pickByIDs(&f.mu, f.members, ids), nil
}

func (f *fakeStore) ProjectsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Project, error) {
	return map[uuid.UUID]domain.Project{}, nil
}

func (f *fakeStore) TeamsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Team, error) {
	return map[uuid.UUID]domain.Team{}, nil
}

func (f *fakeStore) AssetsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Asset, error) {
	return map[uuid.UUID]domain.Asset{}, nil
}

func (f *fakeStore) LabelsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Label, error) {
	return pickByIDs(&f.mu, f.labels, ids), nil
}

func (f *fakeStore) ChangesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Change, error) {
	return pickByIDs(&f.mu, f.changes, ids), nil
}

func (f *fakeStore) ChatsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Chat, error) {
	return map[uuid.UUID]domain.Chat{}, nil
}

func (f *fakeStore) MessagesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Message, error) {
	return map[uuid.UUID]domain.Message{}, nil
}

func (f *fakeStore) TaskAssigneeIDs(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignees[taskID], nil
}

func (f *fakeStore) TaskLabelIDs(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taskLabel[taskID], nil
}

func (f *fakeStore) SubtaskIDs(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subtasks[taskID], nil
}

func (f *fakeStore) ProjectMemberIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeStore) ProjectTeamIDs(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeStore) TeamMemberIDs(ctx context.Context, teamID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeStore) ChatMessageIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeStore) ChangesForResource(ctx context.Context, resourceID uuid.UUID) ([]domain.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Change{}
	for _, c := range f.changes {
		if c.ResourceID == resourceID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateTask(ctx context.Context, ownerID uuid.UUID, input storage.CreateTaskInput) (domain.Task, error) {
	task := domain.Task{
		ID:       uuid.New(),
		Title:    input.Title,
		OwnerID:  ownerID,
		Status:   domain.TaskStatusNone,
		Priority: domain.TaskPriorityNone,
	}
	f.mu.Lock()
	f.tasks[task.ID] = task
	f.assignees[task.ID] = input.AssigneeIDs
	f.taskLabel[task.ID] = input.LabelIDs
	f.mu.Unlock()
	return task, nil
}

func (f *fakeStore) GetTask(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getTaskErr != nil {
		return domain.Task{}, f.getTaskErr
	}
	task, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return task, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Task{}
	for _, t := range f.tasks {
		if ownerID == nil || t.OwnerID == *ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, id uuid.UUID, input storage.UpdateTaskInput) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	if input.Title != nil {
		task.Title = *input.Title
	}
	if input.Status != nil {
		task.Status = *input.Status
	}
	f.tasks[id] = task
	return task, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	delete(f.tasks, id)
	return task, nil
}

func (f *fakeStore) GetChange(ctx context.Context, id uuid.UUID) (domain.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	change, ok := f.changes[id]
	if !ok {
		return domain.Change{}, domain.ErrNotFound
	}
	return change, nil
}

func (f *fakeStore) ListChanges(ctx context.Context, input storage.GetChangesInput) ([]domain.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listChangesInput = input
	out := []domain.Change{}
	for _, c := range f.changes {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) UpdateChange(ctx context.Context, id uuid.UUID, input storage.UpdateChangeInput) (domain.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	change, ok := f.changes[id]
	if !ok {
		return domain.Change{}, domain.ErrNotFound
	}
	if input.DiffJSON != nil {
		change.DiffJSON = *input.DiffJSON
	}
	f.changes[id] = change
	return change, nil
}

func (f *fakeStore) DeleteChange(ctx context.Context, id uuid.UUID) (domain.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	change, ok := f.changes[id]
	if !ok {
		return domain.Change{}, domain.ErrNotFound
	}
	delete(f.changes, id)
	return change, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

type recordedChange struct {
	OwnerID    uuid.UUID
	ResourceID uuid.UUID
	Operation  domain.Operation
	Resource   domain.ResourceType
	DiffJSON   string
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []recordedChange
}

func (f *fakeRecorder) Record(ownerID, resourceID uuid.UUID, op domain.Operation, rt domain.ResourceType, diffJSON string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recordedChange{ownerID, resourceID, op, rt, diffJSON})
}

func (f *fakeRecorder) all() []recordedChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedChange(nil), f.records...)
}

func testLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(nullWriter{})
	return logger
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func newServer(store Storage, recorder Recorder, streams Streams) *echo.Echo {
	e := echo.New()
	// A wide coalescing window keeps the batch assertions immune to
	// scheduling jitter.
	Register(e, store, recorder, streams, loader.Config{Window: 20 * time.Millisecond}, testLogger())
	return e
}

func do(e *echo.Echo, method, target, member, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if member != "" {
		req.Header.Set(memberHeader, member)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateTaskRecordsChange(t *testing.T) {
	store := newFakeStore()
	recorder := &fakeRecorder{}
	e := newServer(store, recorder, nil)

	owner := uuid.New()
	rec := do(e, http.MethodPost, "/api/tasks", owner.String(), `{"title":"write release notes"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var task domain.Task
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if task.Title != "write release notes" || task.OwnerID != owner {
		t.Fatalf("unexpected task %+v", task)
	}

	records := recorder.all()
	if len(records) != 1 {
		t.Fatalf("expected 1 change record, got %d", len(records))
	}
	got := records[0]
	if got.Operation != domain.OperationInsert || got.Resource != domain.ResourceTasks {
		t.Fatalf("wrong record tags %+v", got)
	}
	if got.OwnerID != owner || got.ResourceID != task.ID {
		t.Fatalf("wrong record ids %+v", got)
	}
	if !strings.Contains(got.DiffJSON, `"input"`) || !strings.Contains(got.DiffJSON, `"result"`) {
		t.Fatalf("diff missing input/result: %s", got.DiffJSON)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	store := newFakeStore()
	recorder := &fakeRecorder{}
	e := newServer(store, recorder, nil)

	// Missing member header.
	if rec := do(e, http.MethodPost, "/api/tasks", "", `{"title":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("no member header: status = %d", rec.Code)
	}
	// Missing title.
	if rec := do(e, http.MethodPost, "/api/tasks", uuid.NewString(), `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty title: status = %d", rec.Code)
	}
	// Unknown field.
	if rec := do(e, http.MethodPost, "/api/tasks", uuid.NewString(), `{"title":"x","bogus":true}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status = %d", rec.Code)
	}
	if len(recorder.all()) != 0 {
		t.Fatal("failed mutations must not be recorded")
	}
}

func TestGetTaskResolvesRelationsBatched(t *testing.T) {
	store := newFakeStore()
	recorder := &fakeRecorder{}
	e := newServer(store, recorder, nil)

	owner := domain.Member{ID: uuid.New(), Name: "ana"}
	assignee1 := domain.Member{ID: uuid.New(), Name: "bo"}
	assignee2 := domain.Member{ID: uuid.New(), Name: "cy"}
	label := domain.Label{ID: uuid.New(), Name: "bug"}
	store.members[owner.ID] = owner
	store.members[assignee1.ID] = assignee1
	store.members[assignee2.ID] = assignee2
	store.labels[label.ID] = label

	task := domain.Task{ID: uuid.New(), Title: "fix stream", OwnerID: owner.ID}
	sub := domain.Task{ID: uuid.New(), Title: "add test", OwnerID: owner.ID, ParentID: &task.ID}
	store.tasks[task.ID] = task
	store.tasks[sub.ID] = sub
	store.assignees[task.ID] = []uuid.UUID{assignee1.ID, assignee2.ID}
	store.taskLabel[task.ID] = []uuid.UUID{label.ID}
	store.subtasks[task.ID] = []uuid.UUID{sub.ID}

	rec := do(e, http.MethodGet, "/api/tasks/"+task.ID.String(), "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var view struct {
		domain.Task
		Owner     *domain.Member  `json:"owner"`
		Assignees []domain.Member `json:"assignees"`
		Labels    []domain.Label  `json:"labels"`
		Subtasks  []domain.Task   `json:"subtasks"`
	}
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Owner == nil || view.Owner.ID != owner.ID {
		t.Fatalf("owner not resolved: %+v", view.Owner)
	}
	if len(view.Assignees) != 2 || view.Assignees[0].ID != assignee1.ID || view.Assignees[1].ID != assignee2.ID {
		t.Fatalf("assignees wrong or out of join order: %+v", view.Assignees)
	}
	if len(view.Labels) != 1 || view.Labels[0].ID != label.ID {
		t.Fatalf("labels not resolved: %+v", view.Labels)
	}
	if len(view.Subtasks) != 1 || view.Subtasks[0].ID != sub.ID {
		t.Fatalf("subtasks not resolved: %+v", view.Subtasks)
	}

	// Owner and both assignees resolve through one coalesced member fetch.
	if got := store.memberFetches.Load(); got != 1 {
		t.Fatalf("expected 1 batched member fetch, got %d", got)
	}
}

func TestGetTaskDanglingAssigneeIsSkipped(t *testing.T) {
	store := newFakeStore()
	e := newServer(store, &fakeRecorder{}, nil)

	owner := domain.Member{ID: uuid.New(), Name: "ana"}
	store.members[owner.ID] = owner
	task := domain.Task{ID: uuid.New(), Title: "t", OwnerID: owner.ID}
	store.tasks[task.ID] = task
	store.assignees[task.ID] = []uuid.UUID{owner.ID, uuid.New()} // second id dangles

	rec := do(e, http.MethodGet, "/api/tasks/"+task.ID.String(), "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var view struct {
		Assignees []domain.Member `json:"assignees"`
	}
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(view.Assignees) != 1 || view.Assignees[0].ID != owner.ID {
		t.Fatalf("dangling assignee should be skipped, got %+v", view.Assignees)
	}
}

func TestStorageErrorsAreNotEchoedToClients(t *testing.T) {
	store := newFakeStore()
	store.getTaskErr = errors.New(`connect to "postgres://plexo:secret@db:5432": connection refused`)
	e := newServer(store, &fakeRecorder{}, nil)

	rec := do(e, http.MethodGet, "/api/tasks/"+uuid.NewString(), "", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if body != "internal error" {
		t.Fatalf("expected fixed error body, got %q", body)
	}
	if strings.Contains(body, "postgres://") {
		t.Fatalf("storage detail leaked to client: %q", body)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	e := newServer(newFakeStore(), &fakeRecorder{}, nil)
	if rec := do(e, http.MethodGet, "/api/tasks/"+uuid.NewString(), "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpdateAndDeleteTaskRecordChanges(t *testing.T) {
	store := newFakeStore()
	recorder := &fakeRecorder{}
	e := newServer(store, recorder, nil)

	owner := uuid.New()
	task := domain.Task{ID: uuid.New(), Title: "before", OwnerID: owner}
	store.tasks[task.ID] = task

	rec := do(e, http.MethodPatch, "/api/tasks/"+task.ID.String(), owner.String(), `{"title":"after"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodDelete, "/api/tasks/"+task.ID.String(), owner.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", rec.Code, rec.Body.String())
	}

	records := recorder.all()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Operation != domain.OperationUpdate || records[1].Operation != domain.OperationDelete {
		t.Fatalf("wrong operations: %+v", records)
	}
	// Delete diffs carry only the final state.
	if strings.Contains(records[1].DiffJSON, `"input"`) {
		t.Fatalf("delete diff should have no input: %s", records[1].DiffJSON)
	}
}

func TestListChangesQueryMapping(t *testing.T) {
	store := newFakeStore()
	e := newServer(store, &fakeRecorder{}, nil)

	owner := uuid.New()
	target := "/api/changes?resourceType=tasks&operation=update&ownerId=" + owner.String() +
		"&sortBy=created_at&sortOrder=Desc&limit=5&offset=10"
	rec := do(e, http.MethodGet, target, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got := store.listChangesInput
	if got.Filter.ResourceType == nil || *got.Filter.ResourceType != domain.ResourceTasks {
		t.Fatalf("resource type not mapped: %+v", got.Filter)
	}
	if got.Filter.Operation == nil || *got.Filter.Operation != domain.OperationUpdate {
		t.Fatalf("operation not mapped: %+v", got.Filter)
	}
	if got.Filter.OwnerID == nil || *got.Filter.OwnerID != owner {
		t.Fatalf("owner not mapped: %+v", got.Filter)
	}
	if got.SortBy != "created_at" || got.SortOrder != "Desc" || got.Limit != 5 || got.Offset != 10 {
		t.Fatalf("paging/sort not mapped: %+v", got)
	}
}

func TestListChangesRejectsUnknownResourceType(t *testing.T) {
	e := newServer(newFakeStore(), &fakeRecorder{}, nil)
	if rec := do(e, http.MethodGet, "/api/changes?resourceType=widgets", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChangeAdminEndpointsAreNotRecorded(t *testing.T) {
	store := newFakeStore()
	recorder := &fakeRecorder{}
	e := newServer(store, recorder, nil)

	change := domain.Change{
		ID:           uuid.New(),
		OwnerID:      uuid.New(),
		ResourceID:   uuid.New(),
		Operation:    domain.OperationInsert,
		ResourceType: domain.ResourceTasks,
		DiffJSON:     "{}",
	}
	store.changes[change.ID] = change

	rec := do(e, http.MethodGet, "/api/changes/"+change.ID.String(), "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	rec = do(e, http.MethodPatch, "/api/changes/"+change.ID.String(), "", `{"diffJson":"{\"fixed\":true}"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodDelete, "/api/changes/"+change.ID.String(), "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	if len(recorder.all()) != 0 {
		t.Fatal("audit-log corrections must not record changes about themselves")
	}
}

func TestHealthz(t *testing.T) {
	store := newFakeStore()
	e := newServer(store, &fakeRecorder{}, nil)

	if rec := do(e, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	store.pingErr = context.DeadlineExceeded
	if rec := do(e, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
