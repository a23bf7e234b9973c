// Package heartbeat tracks liveness reports from wake-word edge
// instances and batches them downstream to Core.
package heartbeat

import "time"

// ModelHeartbeat is one wake-word model's state inside an instance
// report.
type ModelHeartbeat struct {
	Topic         string     `json:"topic"`
	WakeWord      string     `json:"wake_word"`
	Status        string     `json:"status"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	TriggerCount  int        `json:"trigger_count"`
}

// Active reports whether the model is currently listening.
func (m *ModelHeartbeat) Active() bool { return m.Status == "active" }

// Request is a batched heartbeat from one edge instance.
type Request struct {
	Source     string           `json:"source"`
	InstanceID string           `json:"instance_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Models     []ModelHeartbeat `json:"models"`
}

// TopicHeartbeat is one topic entry in the batch forwarded to Core.
type TopicHeartbeat struct {
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	TriggerCount  int        `json:"trigger_count"`
	WakeWord      string     `json:"wake_word"`
}

// CoreRequest is the batched heartbeat this service forwards to Core.
type CoreRequest struct {
	Source         string           `json:"source"`
	UpstreamSource string           `json:"upstream_source"`
	InstanceID     string           `json:"instance_id"`
	Timestamp      time.Time        `json:"timestamp"`
	Topics         []TopicHeartbeat `json:"topics"`
}

// Response acknowledges an inbound heartbeat.
type Response struct {
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`
	TopicsProcessed int    `json:"topics_processed"`
}

// InstanceStatus describes one tracked edge instance.
type InstanceStatus struct {
	InstanceID     string    `json:"instance_id"`
	Source         string    `json:"source"`
	AgeSeconds     float64   `json:"age_seconds"`
	IsStale        bool      `json:"is_stale"`
	ActiveModels   int       `json:"active_models"`
	InactiveModels int       `json:"inactive_models"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
}

// Status is the aggregate view over all tracked instances.
type Status struct {
	InstanceCount       int              `json:"instance_count"`
	Instances           []InstanceStatus `json:"instances"`
	TotalActiveTopics   int              `json:"total_active_topics"`
	TotalInactiveTopics int              `json:"total_inactive_topics"`
}
