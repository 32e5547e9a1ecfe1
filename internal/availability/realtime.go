package availability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"homebooking/internal/events"
	"homebooking/internal/metrics"

	"github.com/rs/zerolog"
)

// WatchedTables are the change streams that invalidate availability.
var WatchedTables = []string{events.TableBookings, events.TableScheduleBlocks, events.TableOrganizations}

// Invalidation is emitted after a change event cleared the cache and the
// session refetched its current views.
type Invalidation struct {
	Table      string
	Type       events.ChangeType
	RecordID   string
	ObservedAt time.Time
}

// Controller keeps a Session consistent with change events of its
// organization. The cache is cleared as soon as an event is observed;
// refetches run on the controller's own goroutine and bursts of events
// coalesce into a single refetch.
type Controller struct {
	session *Session
	feed    events.Feed
	logger  *zerolog.Logger

	pending       chan events.ChangeEvent
	invalidations chan Invalidation

	mu      sync.Mutex
	unsubs  []func()
	started bool
	stopped bool
	done    chan struct{}
}

// NewController creates a controller for session fed by feed.
func NewController(session *Session, feed events.Feed, logger *zerolog.Logger) *Controller {
	return &Controller{
		session:       session,
		feed:          feed,
		logger:        logger,
		pending:       make(chan events.ChangeEvent, 1),
		invalidations: make(chan Invalidation, 16),
		done:          make(chan struct{}),
	}
}

// Invalidations delivers an event per completed invalidation. It is closed
// by Stop. Slow readers miss events rather than block the controller.
func (c *Controller) Invalidations() <-chan Invalidation {
	return c.invalidations
}

// Start subscribes to every watched table. ctx bounds the refetches.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("controller already started")
	}
	c.started = true

	orgID := c.session.OrganizationID()
	for _, table := range WatchedTables {
		unsub, err := c.feed.Subscribe(table, orgID, c.handle)
		if err != nil {
			for _, u := range c.unsubs {
				u()
			}
			c.unsubs = nil
			c.stopped = true
			close(c.done)
			close(c.invalidations)
			return fmt.Errorf("subscribe %s: %w", table, err)
		}
		c.unsubs = append(c.unsubs, unsub)
	}

	go c.run(ctx)
	return nil
}

// Stop tears down every subscription and waits for an in-flight refetch.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped || !c.started {
		c.stopped = true
		c.mu.Unlock()
		return
	}
	c.stopped = true
	unsubs := c.unsubs
	c.unsubs = nil
	close(c.pending)
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	<-c.done
}

func (c *Controller) handle(event events.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	// Clear before queueing so a fetch issued right after the event never
	// sees the stale entry.
	c.session.InvalidateAll(context.Background())
	metrics.IncInvalidation(event.Table)

	select {
	case c.pending <- event:
	default:
		// A refetch is already queued and will observe this change too.
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.invalidations)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.pending:
			if !ok {
				return
			}
			c.session.Refresh(ctx)
			c.logger.Debug().
				Str("organization_id", event.OrganizationID).
				Str("table", event.Table).
				Str("type", string(event.Type)).
				Msg("availability refreshed after change")

			select {
			case c.invalidations <- Invalidation{
				Table:      event.Table,
				Type:       event.Type,
				RecordID:   event.RecordID,
				ObservedAt: time.Now(),
			}:
			default:
			}
		}
	}
}
