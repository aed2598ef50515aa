package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of event.
type EventType string

const (
	EventRecordingStarted  EventType = "recording_started"
	EventRecordingFinished EventType = "recording_finished"
	EventRunFinished       EventType = "run_finished"
)

// Record describes one recording session or one test run.
type Record struct {
	ID         string    `json:"id"`     // session ULID or scratch file name
	Target     string    `json:"target"` // recorded URL or relative script path
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Bytes      int       `json:"bytes"`             // artifact size or raw output size
	Outcome    string    `json:"outcome,omitempty"` // passed, failed, timeout, error
	Reused     bool      `json:"reused"`            // runs only: scratch file reused
}

// Event is one history entry exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can list what they stored.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// sendTimeout caps how long a history write may delay the caller.
const sendTimeout = 3 * time.Second

// Emit sends e to sink when one is configured. Failures are logged and dropped:
// history is an audit trail and must never fail a recording or a run.
func Emit(sink Sink, log *slog.Logger, e Event) {
	if sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := sink.Send(ctx, e); err != nil && log != nil {
		log.Warn("history send failed", "event", e.Type, "id", e.Record.ID, "error", err)
	}
}
