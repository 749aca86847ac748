package notify

import (
	"sync"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

// subscriber is one agent's live notification channel.
type subscriber struct {
	ch chan *domain.Notification
}

// PendingStore is the durable side of the bus: every broadcast is also
// appended to each agent's pending list so a disconnected agent never
// silently misses a phase activation, per the guidance to never rely
// solely on pub/sub.
type PendingStore interface {
	AppendPendingNotification(agentID string, n *domain.Notification) error
	DrainPending(agentID string) ([]*domain.Notification, error)
}

// Bus is a per-agent pub/sub hub. Unlike a single global broadcast
// hub, each agent only receives notifications relevant to it plus
// backlog-wide ones (phase activation, backlog done).
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	store       PendingStore
}

// NewBus creates a Bus backed by store for durable pending delivery.
func NewBus(store PendingStore) *Bus {
	return &Bus{
		subscribers: make(map[string]*subscriber),
		store:       store,
	}
}

// Subscribe registers agentID for live delivery and returns the
// channel to read from plus an unsubscribe func. The caller should
// drain its pending backlog via Drain immediately after subscribing,
// since a notification published between a prior disconnect and this
// Subscribe call only exists in the durable pending list.
func (b *Bus) Subscribe(agentID string) (<-chan *domain.Notification, func()) {
	ch := make(chan *domain.Notification, 32)
	b.mu.Lock()
	b.subscribers[agentID] = &subscriber{ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subscribers, agentID)
		b.mu.Unlock()
		close(ch)
	}
}

// Drain returns and clears agentID's durable pending notifications.
func (b *Bus) Drain(agentID string) ([]*domain.Notification, error) {
	return b.store.DrainPending(agentID)
}

// Publish delivers n to every currently subscribed agent listed in
// recipients (non-blocking, dropped if a subscriber's buffer is full)
// and durably records it for every agentID in recipients so
// disconnected agents can drain it later.
func (b *Bus) Publish(n *domain.Notification, recipients []string) {
	b.mu.Lock()
	for id, sub := range b.subscribers {
		if !contains(recipients, id) {
			continue
		}
		select {
		case sub.ch <- n:
		default:
		}
	}
	b.mu.Unlock()

	for _, id := range recipients {
		_ = b.store.AppendPendingNotification(id, n)
	}
}

// PublishAll is Publish addressed to a caller-supplied full agent id
// list, for broadcast-style events like phase activation where
// recipients aren't known to the bus itself. A subscriber missing from
// that list receives nothing.
func (b *Bus) PublishAll(n *domain.Notification, allAgentIDs []string) {
	b.Publish(n, allAgentIDs)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
