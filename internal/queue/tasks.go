package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task types
const (
	TypeSamplerTick      = "sampler:tick"
	TypeDiscoveryUploads = "discovery:uploads"
)

// QueueDefault is the only queue the collector uses.
const QueueDefault = "default"

// TickPayload is the payload for sampler tick tasks.
// A zero RequestedAt means "the hour the task runs in", which is what periodic ticks use.
type TickPayload struct {
	RequestedAt time.Time `json:"requested_at,omitempty"`
	Force       bool      `json:"force"`
}

// DiscoveryPayload is the payload for upload discovery tasks.
type DiscoveryPayload struct {
	RequestedAt time.Time `json:"requested_at,omitempty"`
}

// NewTickTask builds a sampler tick task.
func NewTickTask(requestedAt time.Time, force bool) (*asynq.Task, error) {
	payload, err := json.Marshal(TickPayload{RequestedAt: requestedAt, Force: force})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tick payload: %w", err)
	}
	return asynq.NewTask(TypeSamplerTick, payload), nil
}

// NewDiscoveryTask builds an upload discovery task.
func NewDiscoveryTask(requestedAt time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(DiscoveryPayload{RequestedAt: requestedAt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal discovery payload: %w", err)
	}
	return asynq.NewTask(TypeDiscoveryUploads, payload), nil
}

// UnmarshalTickPayload deserializes JSON to payload. An empty body is a zero payload.
func UnmarshalTickPayload(data []byte) (*TickPayload, error) {
	var payload TickPayload
	if len(data) == 0 {
		return &payload, nil
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tick payload: %w", err)
	}
	return &payload, nil
}

// UnmarshalDiscoveryPayload deserializes JSON to payload. An empty body is a zero payload.
func UnmarshalDiscoveryPayload(data []byte) (*DiscoveryPayload, error) {
	var payload DiscoveryPayload
	if len(data) == 0 {
		return &payload, nil
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal discovery payload: %w", err)
	}
	return &payload, nil
}

// TickTaskID is the task id that makes a tick unique per (bin, hour).
func TickTaskID(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("tick:%d:%s", at.Hour(), at.Format("2006010215"))
}
