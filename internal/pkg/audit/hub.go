// Package audit carries the structured events the engine emits when it
// auto-closes an attendance record. Downstream notifiers subscribe to the
// hub; the engine itself never dispatches notifications.
package audit

import (
	"sync"
	"time"
)

const TypeAttendanceAutoClosed = "attendance_auto_closed"

// Event mirrors the metadata persisted on the closed record, enriched with
// worker identity for notification consumers.
type Event struct {
	Type               string    `json:"type"`
	AttendanceID       string    `json:"attendance_id"`
	WorkerID           string    `json:"worker_id"`
	WorkerName         string    `json:"worker_name,omitempty"`
	Reason             string    `json:"reason"`
	ToleranceMinutes   int       `json:"tolerance_minutes"`
	ToleranceSource    string    `json:"tolerance_source"`
	MaxCheckoutTime    time.Time `json:"max_checkout_time"`
	SyntheticCheckOut  time.Time `json:"synthetic_check_out"`
	AutoClosedAt       time.Time `json:"auto_closed_at"`
	PenaltyWorkMinutes int       `json:"penalty_work_minutes"`
	ExceededByMinutes  int       `json:"exceeded_by_minutes"`
}

// Hub fans events out to subscribers. A nil *Hub is a valid no-op sink.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{})}
}

// Subscribe registers a subscriber and returns its channel plus a cleanup
// function. The channel is buffered; slow consumers drop events rather
// than blocking the engine.
func (h *Hub) Subscribe() (chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 16)
	h.subscribers[ch] = struct{}{}

	cleanup := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}

	return ch, cleanup
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Full channel: the subscriber is too slow, skip it.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
