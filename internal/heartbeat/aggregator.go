package heartbeat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/orac-stt/internal/topics"
)

const (
	// DefaultTTL covers two missed 60s idle-interval reports.
	DefaultTTL = 120 * time.Second

	// defaultForwardInterval batches downstream forwards so a burst of
	// inbound heartbeats produces one Core call.
	defaultForwardInterval = 5 * time.Second
)

// ForwardFunc delivers one batched heartbeat to the Core at coreURL.
// An empty coreURL means the process default.
type ForwardFunc func(ctx context.Context, coreURL string, req CoreRequest) error

// Aggregator tracks per-instance heartbeats, auto-registers their
// topics, and forwards active topics to Core, batched and grouped by
// each topic's effective Core URL.
type Aggregator struct {
	ttl             time.Duration
	forwardInterval time.Duration
	instanceID      string
	registry        *topics.Registry
	forward         ForwardFunc
	log             zerolog.Logger
	now             func() time.Time

	mu          sync.Mutex
	instances   map[string]*instanceState
	lastForward time.Time

	// forwardMu serializes forward cycles so overlapping triggers never
	// interleave Core calls.
	forwardMu sync.Mutex
}

type instanceState struct {
	source     string
	timestamp  time.Time
	models     []ModelHeartbeat
	receivedAt time.Time
}

// NewAggregator creates an aggregator forwarding through fn. A zero ttl
// uses DefaultTTL.
func NewAggregator(instanceID string, ttl time.Duration, registry *topics.Registry, fn ForwardFunc, log zerolog.Logger) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Aggregator{
		ttl:             ttl,
		forwardInterval: defaultForwardInterval,
		instanceID:      instanceID,
		registry:        registry,
		forward:         fn,
		log:             log,
		now:             time.Now,
		instances:       make(map[string]*instanceState),
	}
}

// Process ingests one inbound heartbeat: upserts the instance record,
// auto-registers every reported topic, and forwards downstream when the
// batch interval has elapsed.
func (a *Aggregator) Process(ctx context.Context, req Request) Response {
	now := a.now().UTC()

	a.mu.Lock()
	a.instances[req.InstanceID] = &instanceState{
		source:     req.Source,
		timestamp:  req.Timestamp,
		models:     req.Models,
		receivedAt: now,
	}
	a.mu.Unlock()

	active := 0
	for i := range req.Models {
		m := &req.Models[i]
		if m.Active() {
			active++
		}
		name := topics.Sanitize(m.Topic)
		meta := map[string]any{
			"wake_word":     m.WakeWord,
			"trigger_count": m.TriggerCount,
			"status":        m.Status,
		}
		if m.LastTriggered != nil {
			meta["last_triggered"] = m.LastTriggered.UTC().Format(time.RFC3339)
		}
		a.registry.AutoRegister(name, meta)
	}

	a.log.Info().
		Str("instance", req.InstanceID).
		Int("active", active).
		Int("total", len(req.Models)).
		Msg("received heartbeat")

	if active > 0 && a.shouldForward(now) {
		a.forwardToCore(ctx)
	}

	return Response{
		Status:          "ok",
		Message:         fmt.Sprintf("Processed %d active models", active),
		TopicsProcessed: active,
	}
}

func (a *Aggregator) shouldForward(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return now.Sub(a.lastForward) >= a.forwardInterval
}

// forwardToCore collects active topics across live instances and sends
// one batch per effective Core URL.
func (a *Aggregator) forwardToCore(ctx context.Context) {
	a.forwardMu.Lock()
	defer a.forwardMu.Unlock()

	now := a.now().UTC()

	// Recheck under forwardMu: a concurrent caller may have completed a
	// cycle while this one waited for the lock.
	if !a.shouldForward(now) {
		return
	}

	byTopic := make(map[string]TopicHeartbeat)

	a.mu.Lock()
	for id, inst := range a.instances {
		if now.Sub(inst.receivedAt) > a.ttl {
			delete(a.instances, id)
			a.log.Info().Str("instance", id).Msg("removed stale heartbeat")
			continue
		}
		for _, m := range inst.models {
			if !m.Active() {
				continue
			}
			// Latest report wins when two instances share a topic name.
			byTopic[topics.Sanitize(m.Topic)] = TopicHeartbeat{
				Name:          topics.Sanitize(m.Topic),
				Status:        "active",
				LastTriggered: m.LastTriggered,
				TriggerCount:  m.TriggerCount,
				WakeWord:      m.WakeWord,
			}
		}
	}
	a.mu.Unlock()

	if len(byTopic) == 0 {
		a.log.Debug().Msg("no active topics to forward")
		return
	}

	names := make([]string, 0, len(byTopic))
	for name := range byTopic {
		names = append(names, name)
	}
	sort.Strings(names)

	for coreURL, group := range a.registry.GroupByCoreURL(names) {
		batch := make([]TopicHeartbeat, 0, len(group))
		for _, name := range group {
			batch = append(batch, byTopic[name])
		}
		req := CoreRequest{
			Source:         "orac_stt",
			UpstreamSource: "hey_orac",
			InstanceID:     a.instanceID,
			Timestamp:      a.now().UTC(),
			Topics:         batch,
		}
		if err := a.forward(ctx, coreURL, req); err != nil {
			a.log.Error().Err(err).Str("core_url", coreURL).Int("topics", len(batch)).Msg("failed to forward heartbeat to core")
			continue
		}
		a.log.Info().Str("core_url", coreURL).Int("topics", len(batch)).Msg("forwarded heartbeat batch")
	}

	a.mu.Lock()
	a.lastForward = a.now().UTC()
	a.mu.Unlock()
}

// Status snapshots the tracked instances.
func (a *Aggregator) Status() Status {
	now := a.now().UTC()
	st := Status{Instances: []InstanceStatus{}}

	a.mu.Lock()
	defer a.mu.Unlock()

	st.InstanceCount = len(a.instances)
	for id, inst := range a.instances {
		age := now.Sub(inst.receivedAt).Seconds()
		active := 0
		for _, m := range inst.models {
			if m.Active() {
				active++
			}
		}
		st.Instances = append(st.Instances, InstanceStatus{
			InstanceID:     id,
			Source:         inst.source,
			AgeSeconds:     age,
			IsStale:        age > a.ttl.Seconds(),
			ActiveModels:   active,
			InactiveModels: len(inst.models) - active,
			LastHeartbeat:  inst.timestamp,
		})
		st.TotalActiveTopics += active
		st.TotalInactiveTopics += len(inst.models) - active
	}
	sort.Slice(st.Instances, func(i, j int) bool { return st.Instances[i].InstanceID < st.Instances[j].InstanceID })
	return st
}

// CleanupStale drops instances not heard from within the TTL and
// returns how many were removed.
func (a *Aggregator) CleanupStale() int {
	now := a.now().UTC()

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for id, inst := range a.instances {
		if now.Sub(inst.receivedAt) > a.ttl {
			delete(a.instances, id)
			removed++
			a.log.Info().Str("instance", id).Msg("cleaned up stale heartbeat")
		}
	}
	return removed
}

// Run sweeps stale instances until ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.CleanupStale()
		}
	}
}
