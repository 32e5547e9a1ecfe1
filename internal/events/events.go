package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tables that emit change events.
const (
	TableBookings       = "bookings"
	TableScheduleBlocks = "schedule_blocks"
	TableOrganizations  = "organizations"
)

type ChangeType string

const (
	Insert ChangeType = "INSERT"
	Update ChangeType = "UPDATE"
	Delete ChangeType = "DELETE"
)

// ChangeEvent notifies that a row of Table changed for an organization.
type ChangeEvent struct {
	ID             string     `json:"id"`
	Table          string     `json:"table"`
	Type           ChangeType `json:"type"`
	OrganizationID string     `json:"organization_id"`
	RecordID       string     `json:"record_id,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// Handler reacts to a change event.
type Handler func(event ChangeEvent)

// Feed delivers change events of a table scoped to one organization.
type Feed interface {
	Subscribe(table, organizationID string, handler Handler) (unsubscribe func(), err error)
}

// Publisher announces committed mutations.
type Publisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

type subscription struct {
	id             uint64
	organizationID string
	handler        Handler
}

// Bus provides in-process pub/sub for change events. It is both a Feed and
// a Publisher; remote transports feed into a Bus.
type Bus struct {
	subscribers map[string][]subscription
	nextID      uint64
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]subscription)}
}

// Subscribe registers a handler for changes of table belonging to organizationID.
func (b *Bus) Subscribe(table, organizationID string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[table] = append(b.subscribers[table], subscription{
		id:             id,
		organizationID: organizationID,
		handler:        handler,
	})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(table, id) })
	}, nil
}

func (b *Bus) remove(table string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[table]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[table] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[table]) == 0 {
		delete(b.subscribers, table)
	}
}

// Publish notifies the organization's subscribers of event.Table.
func (b *Bus) Publish(_ context.Context, event ChangeEvent) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event.Table]...)
	b.mu.RUnlock()

	Stamp(&event)

	for _, s := range subs {
		if s.organizationID != event.OrganizationID {
			continue
		}
		// Handlers run synchronously; subscribers decide their concurrency model.
		s.handler(event)
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions for table.
func (b *Bus) SubscriberCount(table string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[table])
}

// Stamp fills in the ID and timestamp of an event when missing.
func Stamp(event *ChangeEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
}
