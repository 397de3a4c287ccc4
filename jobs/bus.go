package jobs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360studio/modernizer/migration"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind starts losing events rather than
// blocking the job.
const subscriberBuffer = 64

// MirrorPublisher mirrors events to an external broker. *nats.Conn
// satisfies it.
type MirrorPublisher interface {
	Publish(subject string, data []byte) error
}

// Bus fans progress events out to per-job subscribers. The emit site
// is single-threaded per job, so subscribers observe events in the
// order produced. There is no replay: a subscriber sees events from
// the moment of subscription forward.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan migration.Event
	nextID int

	logger *slog.Logger
	mirror MirrorPublisher
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// WithMirror additionally publishes every event to an external broker
// under modernizer.migrations.<id>.events.
func WithMirror(m MirrorPublisher) BusOption {
	return func(b *Bus) { b.mirror = m }
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[string]map[int]chan migration.Event),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber for one job's events. The returned
// cancel function must be called exactly once; it closes the channel.
func (b *Bus) Subscribe(migrationID string) (<-chan migration.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[migrationID] == nil {
		b.subs[migrationID] = make(map[int]chan migration.Event)
	}
	id := b.nextID
	b.nextID++

	ch := make(chan migration.Event, subscriberBuffer)
	b.subs[migrationID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[migrationID][id]; ok {
			delete(b.subs[migrationID], id)
			if len(b.subs[migrationID]) == 0 {
				delete(b.subs, migrationID)
			}
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its job. A full
// subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(ev migration.Event) {
	b.mu.RLock()
	for _, ch := range b.subs[ev.MigrationID] {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"migration_id", ev.MigrationID, "type", ev.Type)
		}
	}
	b.mu.RUnlock()

	if b.mirror != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		subject := fmt.Sprintf("modernizer.migrations.%s.events", ev.MigrationID)
		if err := b.mirror.Publish(subject, data); err != nil {
			b.logger.Debug("event mirror publish failed", "subject", subject, "error", err)
		}
	}
}

// SubscriberCount reports the live subscribers for a job.
func (b *Bus) SubscriberCount(migrationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[migrationID])
}
