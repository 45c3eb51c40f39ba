package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	defer h.Close()

	_, ch1 := h.Subscribe(4)
	_, ch2 := h.Subscribe(4)

	h.Publish(Message{Kind: KindQueueFinished})

	m1 := <-ch1
	m2 := <-ch2
	assert.Equal(t, KindQueueFinished, m1.Kind)
	assert.Equal(t, KindQueueFinished, m2.Kind)
	assert.Equal(t, m1.SequenceNo, m2.SequenceNo)
}

func TestHub_SequenceNumbersAreMonotonic(t *testing.T) {
	h := NewHub()
	defer h.Close()

	_, ch := h.Subscribe(8)

	h.Publish(Message{Kind: KindQueueChanged})
	h.Publish(Message{Kind: KindQueueChanged})
	h.Publish(Message{Kind: KindEnded})

	var last uint64
	for i := 0; i < 3; i++ {
		m := <-ch
		assert.Greater(t, m.SequenceNo, last)
		last = m.SequenceNo
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub()
	defer h.Close()

	id, ch := h.Subscribe(1)
	h.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")

	// Publishing after unsubscribe must not panic
	h.Publish(Message{Kind: KindQueueChanged})
}

func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub()
	defer h.Close()

	_, ch := h.Subscribe(1)

	// Fill the buffer, then publish more. The extra messages are dropped
	// instead of stalling the publisher.
	h.Publish(Message{Kind: KindQueueChanged})
	h.Publish(Message{Kind: KindQueueChanged})
	h.Publish(Message{Kind: KindQueueChanged})

	m := <-ch
	require.Equal(t, KindQueueChanged, m.Kind)
	select {
	case <-ch:
		t.Fatal("expected overflow messages to be dropped")
	default:
	}
}
