package history

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one admin push message: a new command, a model change, or an
// engine status transition.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Bus fans events out to admin WebSocket subscribers and keeps a small
// ring for replay on reconnect. Slow subscribers lose events rather
// than block publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan Event
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

// NewBus creates a bus with the given replay ring size.
func NewBus(ringSize int) *Bus {
	if ringSize <= 0 {
		ringSize = 64
	}
	return &Bus{
		subscribers: make(map[uint64]chan Event),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 16)
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish sends an event of the given type to every subscriber and adds
// it to the replay ring.
func (b *Bus) Publish(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	seq := b.seq.Add(1)
	event := Event{
		ID:        fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq),
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop if subscriber is slow
		}
	}
	b.mu.RUnlock()
}

// ReplaySince returns buffered events after the given event ID, oldest
// first. An empty or unknown ID replays everything still in the ring.
func (b *Bus) ReplaySince(lastEventID string) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var events []Event
	found := lastEventID == ""

	for i := 0; i < b.ringSize; i++ {
		idx := (b.ringHead + i) % b.ringSize
		e := b.ring[idx]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		events = append(events, e)
	}
	if !found && lastEventID != "" {
		// ID already overwritten by ring wrap; replay everything so the
		// client doesn't silently miss the backlog.
		return b.replayAllLocked()
	}
	return events
}

// ReplayAll returns every buffered event, oldest first.
func (b *Bus) ReplayAll() []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()
	return b.replayAllLocked()
}

func (b *Bus) replayAllLocked() []Event {
	var events []Event
	for i := 0; i < b.ringSize; i++ {
		idx := (b.ringHead + i) % b.ringSize
		if e := b.ring[idx]; e.ID != "" {
			events = append(events, e)
		}
	}
	return events
}
