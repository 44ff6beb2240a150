// Package progress implements a WebSocket broadcast hub for streaming
// dose-calculation and optimizer progress to subscribed clients, and for
// relaying their cancel requests back to the running computation.
package progress

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType identifies the kind of progress event.
type EventType string

const (
	// EventBeamStart/EventBeamDone bracket per-beam dose accumulation
	// (spec.md §5 suspension point: "between beam boundaries").
	EventBeamStart EventType = "beam_start"
	EventBeamDone  EventType = "beam_done"

	// EventOptimizerIteration reports one optimizer iteration/generation
	// (suspension point: "between optimizer iterations").
	EventOptimizerIteration EventType = "optimizer_iteration"

	// EventMonteCarloBatch reports completion of one Monte Carlo particle
	// batch (suspension point: "between Monte Carlo batches").
	EventMonteCarloBatch EventType = "monte_carlo_batch"

	// EventPlanDone and EventPlanPartial report terminal status.
	EventPlanDone    EventType = "plan_done"
	EventPlanPartial EventType = "plan_partial"
	EventPlanFailed  EventType = "plan_failed"
)

// ProgressEvent is one checkpoint notification for a running plan
// computation.
type ProgressEvent struct {
	ID          string      `json:"id"`
	Type        EventType   `json:"type"`
	PlanID      string      `json:"plan_id"`
	BeamIndex   int         `json:"beam_index,omitempty"`
	BeamCount   int         `json:"beam_count,omitempty"`
	Iteration   int         `json:"iteration,omitempty"`
	MaxIteration int        `json:"max_iteration,omitempty"`
	Objective   float64     `json:"objective,omitempty"`
	Message     string      `json:"message,omitempty"`
	Payload     interface{} `json:"payload,omitempty"`
	Timestamp   int64       `json:"timestamp"`
}

// ControlType identifies the kind of control message a client may send.
type ControlType string

const (
	// ControlCancel requests cooperative cancellation of the plan
	// computation named by the message's plan_id.
	ControlCancel ControlType = "cancel"

	// ControlSubscribe switches the client's subscription to a different
	// plan ID.
	ControlSubscribe ControlType = "subscribe"

	// ControlHeartbeat is a client keep-alive.
	ControlHeartbeat ControlType = "heartbeat"
)

// ControlMessage is a client-to-server message.
type ControlMessage struct {
	Type      ControlType `json:"type"`
	PlanID    string      `json:"plan_id"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// CancelFunc flips a running computation's cooperative cancellation flag.
// The plan controller registers one per in-flight plan ID.
type CancelFunc func()

// Client represents one subscribed WebSocket connection.
type Client struct {
	ID            string
	PlanID        string
	Conn          *websocket.Conn
	Send          chan *ProgressEvent
	LastHeartbeat time.Time
	IsAlive       bool
}

// Statistics summarizes hub throughput for operational visibility.
type Statistics struct {
	ActiveSubscriptions int     `json:"active_subscriptions"`
	TotalClients        int     `json:"total_clients"`
	EventsPerSecond     float64 `json:"events_per_second"`
	AvgLatencyMs        float64 `json:"avg_latency_ms"`
	P95LatencyMs        float64 `json:"p95_latency_ms"`
	P99LatencyMs        float64 `json:"p99_latency_ms"`
}
