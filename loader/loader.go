// Package loader coalesces scattered, concurrent by-id lookups into batched
// storage fetches. A loader set is constructed per incoming request and closed
// with it: batching and deduplication happen within one request's resolution
// graph, never across requests.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plexoapp/plexo/domain"
)

// Fetch resolves a batch of ids in one storage round trip. Ids without a row
// are simply absent from the returned map.
type Fetch[T any] func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]T, error)

// Config bounds a loader's batching behavior.
type Config struct {
	// MaxBatch caps the ids collected into one fetch.
	MaxBatch int
	// Window is how long the collector waits after the first pending request
	// for more requests to coalesce before flushing.
	Window time.Duration
}

const (
	defaultMaxBatch = 128
	defaultWindow   = 250 * time.Microsecond
)

// ErrLoaderClosed is returned for loads issued after the owning set closed.
var ErrLoaderClosed = errors.New("loader closed")

type outcome[T any] struct {
	value T
	err   error
}

type request[T any] struct {
	id     uuid.UUID
	result chan outcome[T]
}

// Loader batches by-id lookups for one entity type.
type Loader[T any] struct {
	ctx     context.Context
	fetch   Fetch[T]
	cfg     Config
	reqCh   chan request[T]
	closeCh chan struct{}
}

// New starts a loader. ctx is the request-scoped context every batched fetch
// runs under; canceling it fails pending loads.
func New[T any](ctx context.Context, fetch Fetch[T], cfg Config) *Loader[T] {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	l := &Loader[T]{
		ctx:     ctx,
		fetch:   fetch,
		cfg:     cfg,
		// Unbuffered: a send only completes while the collector is live, so
		// loads issued after close reliably observe closeCh instead of
		// parking a request nobody will answer.
		reqCh:   make(chan request[T]),
		closeCh: make(chan struct{}),
	}
	go l.collect()
	return l
}

// close stops the collector. Pending requests receive ErrLoaderClosed.
func (l *Loader[T]) close() {
	close(l.closeCh)
}

// collect gathers concurrently issued requests into batches: the first
// pending request opens a window, everything arriving before it elapses (or
// before MaxBatch is hit) joins the batch, then exactly one fetch runs.
func (l *Loader[T]) collect() {
	timer := time.NewTimer(l.cfg.Window)
	defer timer.Stop()

	for {
		var batch []request[T]
		select {
		case req := <-l.reqCh:
			batch = append(batch, req)
		case <-l.closeCh:
			l.drain(nil)
			return
		case <-l.ctx.Done():
			l.drain(l.ctx.Err())
			return
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.cfg.Window)

	gather:
		for len(batch) < l.cfg.MaxBatch {
			select {
			case req := <-l.reqCh:
				batch = append(batch, req)
			case <-timer.C:
				break gather
			case <-l.closeCh:
				l.flush(batch)
				l.drain(nil)
				return
			case <-l.ctx.Done():
				l.fail(batch, l.ctx.Err())
				l.drain(l.ctx.Err())
				return
			}
		}

		l.flush(batch)
	}
}

// flush issues the single deduplicated fetch for a batch and fans the results
// back out to every caller.
func (l *Loader[T]) flush(batch []request[T]) {
	if len(batch) == 0 {
		return
	}

	seen := make(map[uuid.UUID]struct{}, len(batch))
	ids := make([]uuid.UUID, 0, len(batch))
	for _, req := range batch {
		if _, dup := seen[req.id]; dup {
			continue
		}
		seen[req.id] = struct{}{}
		ids = append(ids, req.id)
	}

	values, err := l.fetch(l.ctx, ids)
	if err != nil {
		l.fail(batch, err)
		return
	}

	for _, req := range batch {
		if value, ok := values[req.id]; ok {
			req.result <- outcome[T]{value: value}
		} else {
			// Dangling reference: the id had no row. Degrade to a per-id
			// NotFound instead of failing the sibling loads.
			req.result <- outcome[T]{err: fmt.Errorf("%s: %w", req.id, domain.ErrNotFound)}
		}
	}
}

func (l *Loader[T]) fail(batch []request[T], err error) {
	for _, req := range batch {
		req.result <- outcome[T]{err: err}
	}
}

// drain answers requests that raced the shutdown.
func (l *Loader[T]) drain(cause error) {
	if cause == nil {
		cause = ErrLoaderClosed
	}
	for {
		select {
		case req := <-l.reqCh:
			req.result <- outcome[T]{err: cause}
		default:
			return
		}
	}
}

// LoadOne resolves a single entity by id, joining whatever batch is currently
// being collected. A missing row yields domain.ErrNotFound.
func (l *Loader[T]) LoadOne(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T
	req := request[T]{id: id, result: make(chan outcome[T], 1)}
	select {
	case l.reqCh <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-l.closeCh:
		return zero, ErrLoaderClosed
	}

	select {
	case out := <-req.result:
		return out.value, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// LoadMany resolves a set of ids through the same batching path, returning the
// entities found keyed by id. Dangling ids are absent from the result rather
// than an error; a failed batch fetch fails the whole call.
func (l *Loader[T]) LoadMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]T, error) {
	reqs := make([]request[T], 0, len(ids))
	for _, id := range ids {
		req := request[T]{id: id, result: make(chan outcome[T], 1)}
		select {
		case l.reqCh <- req:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.closeCh:
			return nil, ErrLoaderClosed
		}
		reqs = append(reqs, req)
	}

	out := make(map[uuid.UUID]T, len(ids))
	for _, req := range reqs {
		select {
		case res := <-req.result:
			if res.err != nil {
				if errors.Is(res.err, domain.ErrNotFound) {
					continue
				}
				return nil, res.err
			}
			out[req.id] = res.value
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}
