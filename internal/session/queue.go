package session

import (
	"log/slog"
	"sync"
	"time"
)

// AntennaRSSI decorates a notification event with a per-antenna signal
// reading.
type AntennaRSSI struct {
	Antenna int `json:"antenna"`
	RSSI    int `json:"rssi"`
}

// NotificationEvent is an immutable record of one asynchronous driver
// callback (component J's payload type).
type NotificationEvent struct {
	KindName        string        `json:"eventType"`
	Timestamp       time.Time     `json:"timestamp"`
	IDHex           string        `json:"idd"`
	RSSI            []AntennaRSSI `json:"rssiValues"`
	ReaderTime      *time.Time    `json:"readerTimestamp,omitempty"`
	ReaderType      string        `json:"readerType,omitempty"`
	FirmwareVersion string        `json:"firmwareVersion,omitempty"`
}

// Queue is a bounded, thread-safe FIFO of NotificationEvents. Once the
// length exceeds its capacity, Push discards the oldest entry and logs
// the discard (spec §4.6).
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    []NotificationEvent
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{capacity: capacity}
}

func (q *Queue) Push(evt NotificationEvent, log *slog.Logger) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, evt)
	for len(q.items) > q.capacity {
		discarded := q.items[0]
		q.items = q.items[1:]
		if log != nil {
			log.Warn("notification queue overflow, discarding oldest event", "event_kind", discarded.KindName, "tag", discarded.IDHex)
		}
	}
}

// PollAll drains the queue to a caller-owned snapshot and empties it.
func (q *Queue) PollAll() []NotificationEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// PeekAll returns a non-consuming snapshot of the current contents.
func (q *Queue) PeekAll() []NotificationEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]NotificationEvent, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
