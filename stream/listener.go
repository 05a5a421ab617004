// Package stream exposes live change notifications as cancellable event
// streams. Every subscription owns one dedicated database connection for its
// lifetime; delivery is at-most-once with no replay.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"

	"github.com/plexoapp/plexo/domain"
)

// ErrMalformedNotification reports a payload that failed to parse. It
// terminates the one subscription that saw it; other subscriptions and the
// process are unaffected.
var ErrMalformedNotification = errors.New("malformed notification")

// ErrTooManySubscriptions reports that the listener's connection budget is
// exhausted.
var ErrTooManySubscriptions = errors.New("too many subscriptions")

// Conn is the slice of a dedicated database connection a subscription needs.
// *pgx.Conn satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Connect opens one dedicated connection. Subscriptions never draw from the
// CRUD pool.
type Connect func(ctx context.Context) (Conn, error)

// Config bounds the listener.
type Config struct {
	// MaxSubscriptions caps concurrently open subscriptions so dedicated
	// connections cannot exhaust the database's connection budget.
	MaxSubscriptions int
}

const defaultMaxSubscriptions = 32

// Listener hands out subscriptions to per-resource-type notification
// channels.
type Listener struct {
	connect Connect
	logger  *log.Logger
	slots   chan struct{}
}

// NewListener builds a listener with the given connection budget.
func NewListener(connect Connect, cfg Config, logger *log.Logger) *Listener {
	max := cfg.MaxSubscriptions
	if max <= 0 {
		max = defaultMaxSubscriptions
	}
	return &Listener{
		connect: connect,
		logger:  logger,
		slots:   make(chan struct{}, max),
	}
}

// Listen opens a subscription to the resource type's channel. The returned
// subscription emits events until the consumer closes it, ctx is canceled, or
// the stream fails (connection loss or a malformed payload).
func (l *Listener) Listen(ctx context.Context, resource domain.ResourceType) (*Subscription, error) {
	select {
	case l.slots <- struct{}{}:
	default:
		return nil, ErrTooManySubscriptions
	}
	release := func() { <-l.slots }

	conn, err := l.connect(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("listen connect: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %q", resource.Channel())); err != nil {
		_ = conn.Close(context.Background())
		release()
		return nil, fmt.Errorf("listen %s: %w", resource.Channel(), err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		resource: resource,
		conn:     conn,
		logger:   l.logger,
		events:   make(chan domain.ListenEvent, 16),
		cancel:   cancel,
		release:  release,
		done:     make(chan struct{}),
	}
	go sub.run(runCtx)
	return sub, nil
}

// Subscription is one live event stream. It is not restartable: once closed,
// by either side, a new Listen call is needed.
type Subscription struct {
	resource domain.ResourceType
	conn     Conn
	logger   *log.Logger

	events  chan domain.ListenEvent
	cancel  context.CancelFunc
	release func()
	done    chan struct{}

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Events yields parsed notifications. The channel closes when the
// subscription terminates; check Err afterwards.
func (s *Subscription) Events() <-chan domain.ListenEvent {
	return s.events
}

// Err reports why the stream terminated. It is nil after a consumer-initiated
// close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close terminates the stream and releases its dedicated connection.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	<-s.done
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Subscription) run(ctx context.Context) {
	defer func() {
		close(s.events)
		_ = s.conn.Close(context.Background())
		s.release()
		close(s.done)
	}()

	for {
		notification, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Consumer cancellation, not a stream failure.
				return
			}
			s.setErr(fmt.Errorf("wait notification: %w", err))
			return
		}

		event, err := domain.ParseListenEvent(notification.Payload)
		if err != nil {
			s.setErr(fmt.Errorf("%w: %q: %v", ErrMalformedNotification, notification.Payload, err))
			return
		}

		select {
		case s.events <- event:
		case <-ctx.Done():
			return
		}
	}
}
