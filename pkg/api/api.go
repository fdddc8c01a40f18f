// Package api defines the operations conveyord offers, so that the
// HTTP server and client can be written against the same interface.
package api

import (
	"context"

	"github.com/fluxcd/conveyor/pkg/artifact"
	"github.com/fluxcd/conveyor/pkg/history"
	"github.com/fluxcd/conveyor/pkg/pipeline"
)

// TriggerResult says what a source change event led to. An event
// for a branch the pipeline does not follow is ignored, and Run is
// nil.
type TriggerResult struct {
	Ignored bool          `json:"ignored"`
	Run     *pipeline.Run `json:"run,omitempty"`
}

// PromoteOptions replaces the versions of some services, for the
// promotion, with versions built by other runs.
type PromoteOptions struct {
	Versions map[string]string `json:"versions,omitempty"`
}

// Server is the interface conveyord serves, and conveyorctl uses.
type Server interface {
	Ping(context.Context) error
	Version(context.Context) (string, error)

	// NotifyChange acts on a source change, as delivered by webhook.
	NotifyChange(context.Context, pipeline.Event) (TriggerResult, error)

	ListServices(context.Context) ([]artifact.Service, error)
	ListRuns(context.Context) ([]pipeline.Summary, error)
	RunStatus(context.Context, pipeline.RunID) (pipeline.Run, error)
	RunEvents(context.Context, pipeline.RunID) ([]history.Event, error)

	Promote(context.Context, pipeline.RunID, PromoteOptions) (pipeline.Run, error)
	Abort(context.Context, pipeline.RunID) (pipeline.Run, error)
}
