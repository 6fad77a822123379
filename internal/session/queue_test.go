package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueuePushAndPeekPreservesOrder(t *testing.T) {
	q := NewQueue(10)
	q.Push(NotificationEvent{KindName: "tag", IDHex: "A"}, nil)
	q.Push(NotificationEvent{KindName: "tag", IDHex: "B"}, nil)

	peeked := q.PeekAll()
	assert.Len(t, peeked, 2)
	assert.Equal(t, "A", peeked[0].IDHex)
	assert.Equal(t, "B", peeked[1].IDHex)
	assert.Equal(t, 2, q.Count(), "peek must not consume")
}

func TestQueuePollAllDrainsQueue(t *testing.T) {
	q := NewQueue(10)
	q.Push(NotificationEvent{KindName: "tag", IDHex: "A"}, nil)

	polled := q.PollAll()
	assert.Len(t, polled, 1)
	assert.Equal(t, 0, q.Count())
	assert.Empty(t, q.PollAll())
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	q := NewQueue(2)
	q.Push(NotificationEvent{IDHex: "A"}, nil)
	q.Push(NotificationEvent{IDHex: "B"}, nil)
	q.Push(NotificationEvent{IDHex: "C"}, nil)

	remaining := q.PeekAll()
	assert.Len(t, remaining, 2)
	assert.Equal(t, "B", remaining[0].IDHex)
	assert.Equal(t, "C", remaining[1].IDHex)
}

func TestNewQueueDefaultsCapacity(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, 1000, q.capacity)
	q = NewQueue(-5)
	assert.Equal(t, 1000, q.capacity)
}
