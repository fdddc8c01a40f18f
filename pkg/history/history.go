// Package history records what happened in pipeline runs, as a list
// of events per run.
package history

import (
	"fmt"
	"strings"
	"time"
)

// These are all the types of events.
const (
	EventRunStarted  = "run_started"
	EventStage       = "stage"
	EventPromotion   = "promotion"
	EventRunFinished = "run_finished"

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type Event struct {
	// ID is a UUID for this event. It is set when the event is
	// logged, if blank.
	ID string `json:"id"`

	RunID string `json:"runID"`
	// Type is one of the Event* constants.
	Type string `json:"type"`
	// Stage is the name of the stage, for stage events.
	Stage string `json:"stage,omitempty"`
	// Services affected by this event.
	Services []string `json:"services,omitempty"`

	StartedAt time.Time `json:"startedAt"`
	// EndedAt is the same as StartedAt for instantaneous events.
	EndedAt time.Time `json:"endedAt"`

	// LogLevel is `debug|info|warn|error`.
	LogLevel string `json:"logLevel"`
	Message  string `json:"message,omitempty"`
}

func (e Event) String() string {
	if e.Message != "" {
		return e.Message
	}
	var sb strings.Builder
	sb.WriteString(e.Type)
	if e.Stage != "" {
		fmt.Fprintf(&sb, " %s", e.Stage)
	}
	if len(e.Services) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(e.Services, ", "))
	}
	return sb.String()
}

type EventWriter interface {
	// LogEvent records an event in the history of its run.
	LogEvent(Event) error
}

type EventReader interface {
	// EventsForRun returns the history of a run, most recent first.
	EventsForRun(runID string) ([]Event, error)
	// AllEvents returns up to limit events that started before the
	// time given, most recent first. A negative limit means no limit.
	AllEvents(before time.Time, limit int64) ([]Event, error)
}

type EventReadWriter interface {
	EventReader
	EventWriter
}
