package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch1, cancel1 := h.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := h.Subscribe(4)
	defer cancel2()

	h.Publish(Event{Type: TypeStoreChanged, Family: FamilyQuests, ID: "q1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, TypeStoreChanged, ev.Type)
			assert.Equal(t, FamilyQuests, ev.Family)
			assert.Equal(t, "q1", ev.ID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHub_PublishNeverBlocksOnFullBuffer(t *testing.T) {
	t.Parallel()

	h := NewHub()
	_, cancel := h.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(Event{Type: TypeStoreChanged, Family: FamilyStats})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch, cancel := h.Subscribe(4)
	cancel()

	// A cancelled subscription sees a closed channel, not a hang.
	_, open := <-ch
	require.False(t, open)

	// Publishing after cancel must not panic on the closed channel.
	h.Publish(Event{Type: TypeSyncCompleted, Family: FamilyProfile})
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHub()
	_, cancel := h.Subscribe(1)
	cancel()
	cancel()
}
