package bus

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New(Options{QueueSize: 8})
	b.Start()
	defer b.Close()

	sub := b.Subscribe(1)
	for i := 0; i < 5; i++ {
		b.Publish(1, "task.status_changed", json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)))
	}

	for i := 0; i < 5; i++ {
		frame := <-sub.C()
		assert.Equal(t, "task.status_changed", frame.Type)
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), string(frame.Payload))
	}
}

func TestPublishIsolatesTopics(t *testing.T) {
	b := New(Options{QueueSize: 8})
	b.Start()
	defer b.Close()

	sub1 := b.Subscribe(1)
	sub2 := b.Subscribe(2)

	b.Publish(1, "project.phase_changed", nil)

	frame := <-sub1.C()
	assert.Equal(t, int64(1), frame.ProjectID)
	select {
	case f := <-sub2.C():
		t.Fatalf("subscriber on project 2 received %q", f.Type)
	default:
	}
}

func TestOverflowDropsOldestAndInsertsGap(t *testing.T) {
	b := New(Options{QueueSize: 4, EvictTicks: 100})
	b.Start()
	defer b.Close()

	sub := b.Subscribe(1)
	for i := 0; i < 5; i++ {
		b.Publish(1, fmt.Sprintf("ev-%d", i), nil)
	}

	// Oldest two were dropped to make room for the gap marker and ev-4.
	var types []string
	for i := 0; i < 4; i++ {
		types = append(types, (<-sub.C()).Type)
	}
	assert.Equal(t, []string{"ev-2", "ev-3", TypeGap, "ev-4"}, types)
	assert.Empty(t, sub.C())
}

func TestOverflowEvictsSlowSubscriber(t *testing.T) {
	b := New(Options{QueueSize: 2, EvictTicks: 3})
	b.Start()
	defer b.Close()

	sub := b.Subscribe(1)
	require.Equal(t, 1, b.SubscriberCount(1))

	// Fill the queue, then overflow three publishes in a row.
	for i := 0; i < 5; i++ {
		b.Publish(1, "ev", nil)
	}
	assert.Equal(t, 0, b.SubscriberCount(1))

	// Channel is closed after eviction.
	for range sub.C() {
	}
}

func TestSuccessfulDeliveryResetsOverflowCount(t *testing.T) {
	b := New(Options{QueueSize: 2, EvictTicks: 3})
	b.Start()
	defer b.Close()

	sub := b.Subscribe(1)
	b.Publish(1, "ev", nil)
	b.Publish(1, "ev", nil)
	b.Publish(1, "ev", nil) // first overflow tick

	// Consumer catches up; the next publish lands and resets the count.
	for len(sub.C()) > 0 {
		<-sub.C()
	}
	b.Publish(1, "ev", nil)
	b.Publish(1, "ev", nil)
	b.Publish(1, "ev", nil) // overflow again, tick 1 not tick 2

	assert.Equal(t, 1, b.SubscriberCount(1))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(Options{})
	b.Start()
	defer b.Close()

	sub := b.Subscribe(7)
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount(7))

	_, open := <-sub.C()
	assert.False(t, open)
}

func TestReadyLifecycle(t *testing.T) {
	b := New(Options{})
	assert.False(t, b.Ready())
	b.Start()
	assert.True(t, b.Ready())
	b.Close()
	assert.False(t, b.Ready())
}
