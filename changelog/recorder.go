// Package changelog records mutations into the append-only change log as a
// best-effort background step. Recording never blocks or fails the mutation
// that triggered it: a full buffer or a storage failure is logged and dropped.
package changelog

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/plexoapp/plexo/domain"
	"github.com/plexoapp/plexo/storage"
)

// Store is the slice of storage the recorder needs.
type Store interface {
	CreateChange(ctx context.Context, input storage.CreateChangeInput) (domain.Change, error)
}

// Config bounds the recorder's buffer and workers.
type Config struct {
	BufferSize    int
	WorkerCount   int
	RecordTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = 30 * time.Second
	}
	return c
}

// Recorder dispatches change rows to storage from a small worker pool.
//
// Mutations of the change log itself are never run through the recorder;
// that asymmetry is intentional and avoids recursive audit rows.
type Recorder struct {
	cfg    Config
	store  Store
	logger *log.Logger

	jobs     chan storage.CreateChangeInput
	wg       sync.WaitGroup
	dropped  atomic.Uint64
	recorded atomic.Uint64

	closeOnce sync.Once
}

// NewRecorder starts the worker pool.
func NewRecorder(store Store, cfg Config, logger *log.Logger) *Recorder {
	r := &Recorder{
		cfg:    cfg.withDefaults(),
		store:  store,
		logger: logger,
		jobs:   make(chan storage.CreateChangeInput, cfg.withDefaults().BufferSize),
	}
	for i := 0; i < r.cfg.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for input := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RecordTimeout)
		_, err := r.store.CreateChange(ctx, input)
		cancel()
		if err != nil {
			r.logger.WithError(err).Errorf("change record failed, resource=%s %s %s",
				input.ResourceType, input.Operation, input.ResourceID)
			continue
		}
		r.recorded.Add(1)
	}
}

// Record enqueues one change row. It returns immediately; when the buffer is
// saturated the record is dropped with a warning rather than blocking the
// caller's response path.
func (r *Recorder) Record(ownerID, resourceID uuid.UUID, op domain.Operation, rt domain.ResourceType, diffJSON string) {
	input := storage.CreateChangeInput{
		OwnerID:      ownerID,
		ResourceID:   resourceID,
		Operation:    op,
		ResourceType: rt,
		DiffJSON:     diffJSON,
	}
	select {
	case r.jobs <- input:
	default:
		r.dropped.Add(1)
		r.logger.Warnf("change recorder saturated, dropping %s %s %s", rt, op, resourceID)
	}
}

// Close drains queued records and stops the workers.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.jobs)
	})
	r.wg.Wait()
}

// Stats reports recorder counters.
func (r *Recorder) Stats() (recorded, dropped uint64) {
	return r.recorded.Load(), r.dropped.Load()
}

// Diff renders the conventional {"input":…,"result":…} payload. For deletes,
// pass a nil input to get {"result":…}.
func Diff(input, result any) string {
	payload := map[string]any{"result": result}
	if input != nil {
		payload["input"] = input
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// The diff is opaque best-effort JSON; an unmarshalable value becomes
		// an error marker rather than a failed record.
		return `{"error":"unencodable diff"}`
	}
	return string(data)
}
