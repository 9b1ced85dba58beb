// Package history exports worker lifecycle events to external stores.
package history

import (
	"context"
	"io"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart        EventType = "start"
	EventStop         EventType = "stop"
	EventKill         EventType = "kill"  // stop that needed forceful termination
	EventStale        EventType = "stale" // state file pointed at a dead process
	EventLaunchFailed EventType = "launch_failed"
)

// Record describes the worker instance an event refers to.
type Record struct {
	Name      string     `json:"name"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at,omitzero"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	ExitErr   string     `json:"exit_err,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }

// Close closes s if it holds resources.
func Close(s Sink) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// StoppedAtOrNil returns the stop time as a nullable value for SQL drivers.
func (r Record) StoppedAtOrNil() any {
	if r.StoppedAt == nil {
		return nil
	}
	return r.StoppedAt.UTC()
}

// ExitErrOrNil returns nil for an empty error so SQL stores NULL.
func (r Record) ExitErrOrNil() any {
	if r.ExitErr == "" {
		return nil
	}
	return r.ExitErr
}
