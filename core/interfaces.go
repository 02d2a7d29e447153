package core

import (
	"context"
)

// Logger interface - minimal logging interface shared by every package.
// Production implementations live in the logging package; tests usually
// pass NoOpLogger.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// Telemetry interface - optional metric emission. Implementations live
// in the telemetry package (Prometheus, OTel); NoOpTelemetry is the
// default so instrumentation points never nil-check.
type Telemetry interface {
	RecordMetric(name string, value float64, labels map[string]string)
}

// MemoryService is the narrow contract the runtime holds against the
// persistence collaborator. Every call is fail-open from the caller's
// side: an error is logged and counted, never propagated into the
// dispatch path.
type MemoryService interface {
	// AppendEvent persists an observation and returns its event id.
	AppendEvent(ctx context.Context, obs *Observation) (string, error)

	// StartTurn opens a turn for a delivered message. inputEventID is
	// the id AppendEvent returned for the triggering observation.
	StartTurn(ctx context.Context, sessionKey, inputEventID string) (string, error)

	// FinishTurn closes a turn with terminal status "ok" or "error".
	FinishTurn(ctx context.Context, turnID, status, errMsg, finalObsID string) error

	// Close flushes buffered writes and releases resources.
	Close() error
}

// MemoryEventIDKey is the metadata key the runtime writes the memory
// event id back under after a successful AppendEvent.
const MemoryEventIDKey = "memory_event_id"

// OutputAdapter delivers observations to an external output channel.
type OutputAdapter interface {
	Send(ctx context.Context, obs *Observation) error
}

// InputAdapter is the producer-side contract: adapters get a publish
// function and push validated observations through it. Start must not
// block; Stop must be idempotent.
type InputAdapter interface {
	Name() string
	Start(publish func(*Observation) PublishResult) error
	Stop() error
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// NoOpTelemetry provides a no-op telemetry implementation.
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

// NoOpMemory is the default MemoryService: it accepts everything and
// stores nothing.
type NoOpMemory struct{}

func (n *NoOpMemory) AppendEvent(ctx context.Context, obs *Observation) (string, error) {
	return "", nil
}

func (n *NoOpMemory) StartTurn(ctx context.Context, sessionKey, inputEventID string) (string, error) {
	return "", nil
}

func (n *NoOpMemory) FinishTurn(ctx context.Context, turnID, status, errMsg, finalObsID string) error {
	return nil
}

func (n *NoOpMemory) Close() error { return nil }
