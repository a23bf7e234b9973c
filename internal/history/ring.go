package history

import (
	"sync"

	"github.com/rs/zerolog"
)

// Ring is a fixed-capacity command buffer. Adding past capacity evicts
// the oldest entry. Observers run on the caller's goroutine after the
// lock is released; a panicking observer is logged and skipped.
type Ring struct {
	capacity int
	log      zerolog.Logger

	mu      sync.Mutex
	entries []Command
	obs     []func(Command)
}

// NewRing creates a ring holding at most capacity commands.
func NewRing(capacity int, log zerolog.Logger) *Ring {
	if capacity <= 0 {
		capacity = 5
	}
	return &Ring{capacity: capacity, log: log}
}

// Add appends cmd, evicting the oldest entry at capacity, then notifies
// observers.
func (r *Ring) Add(cmd Command) {
	r.mu.Lock()
	r.entries = append(r.entries, cmd)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[1:]
	}
	obs := make([]func(Command), len(r.obs))
	copy(obs, r.obs)
	r.mu.Unlock()

	for _, fn := range obs {
		r.notify(fn, cmd)
	}
}

func (r *Ring) notify(fn func(Command), cmd Command) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Str("command_id", cmd.ID).Msg("command observer panicked")
		}
	}()
	fn(cmd)
}

// Recent returns up to limit commands, newest first. limit <= 0 returns
// everything.
func (r *Ring) Recent(limit int) []Command {
	r.mu.Lock()
	out := make([]Command, len(r.entries))
	copy(out, r.entries)
	r.mu.Unlock()

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Get returns the command with the given ID.
func (r *Ring) Get(id string) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cmd := range r.entries {
		if cmd.ID == id {
			return cmd, true
		}
	}
	return Command{}, false
}

// Len returns the current number of buffered commands.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear drops every buffered command.
func (r *Ring) Clear() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

// Observe registers fn to run for every command added after this call.
func (r *Ring) Observe(fn func(Command)) {
	r.mu.Lock()
	r.obs = append(r.obs, fn)
	r.mu.Unlock()
}
