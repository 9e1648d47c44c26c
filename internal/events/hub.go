package events

import (
	"log/slog"
	"sync"
)

// Family names a record family for change and sync events.
type Family string

const (
	FamilyQuests  Family = "quests"
	FamilyStats   Family = "stats"
	FamilyProfile Family = "profile"
)

// Event is a broadcast notification inside the engine process.
type Event struct {
	Type   string // "store.changed", "sync.completed", "sync.failed", "reward.state"
	Family Family
	ID     string // record id for store changes, reward state name for reward events
}

const (
	TypeStoreChanged  = "store.changed"
	TypeSyncCompleted = "sync.completed"
	TypeSyncFailed    = "sync.failed"
	TypeRewardState   = "reward.state"
)

// Hub fans events out to subscriber channels. Publishing never blocks:
// a subscriber that falls behind loses events and must re-read state from
// the store, which every consumer here can do.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a buffered channel of events and a cancel function.
// The channel is closed by cancel, never by the hub.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			slog.Debug("dropping event for slow subscriber", "type", e.Type, "family", string(e.Family))
		}
	}
}
