package daemon

import (
	"context"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/conveyor/pkg/api"
	"github.com/fluxcd/conveyor/pkg/artifact"
	"github.com/fluxcd/conveyor/pkg/history"
	"github.com/fluxcd/conveyor/pkg/pipeline"
)

// Pipeline is what the daemon needs from the orchestrator.
type Pipeline interface {
	HandleEvent(ctx context.Context, e pipeline.Event) (pipeline.Run, error)
	Promote(ctx context.Context, id pipeline.RunID, versions map[string]string) (pipeline.Run, error)
	Abort(id pipeline.RunID) (pipeline.Run, error)
	Run(id pipeline.RunID) (pipeline.Run, error)
	Runs() []pipeline.Summary
	Services() []artifact.Service
}

var _ Pipeline = &pipeline.Orchestrator{}

// Daemon serves the API from the pipeline it runs, and the history
// of the pipeline's runs.
type Daemon struct {
	V        string
	Pipeline Pipeline
	// History is optional; without it, runs have no recorded events.
	History history.EventReader
	Logger  log.Logger
}

// Invariant.
var _ api.Server = &Daemon{}

func (d *Daemon) Version(ctx context.Context) (string, error) {
	return d.V, nil
}

func (d *Daemon) Ping(ctx context.Context) error {
	return nil
}

func (d *Daemon) NotifyChange(ctx context.Context, e pipeline.Event) (api.TriggerResult, error) {
	run, err := d.Pipeline.HandleEvent(ctx, e)
	switch {
	case err == pipeline.ErrIgnored:
		sourceEvents.With(labelEventKind, string(e.Kind), labelOutcome, "ignored").Add(1)
		d.Logger.Log("event", e.Kind, "branch", e.Branch, "commit", e.Commit, "outcome", "ignored")
		return api.TriggerResult{Ignored: true}, nil
	case err != nil:
		sourceEvents.With(labelEventKind, string(e.Kind), labelOutcome, "rejected").Add(1)
		d.Logger.Log("event", e.Kind, "branch", e.Branch, "commit", e.Commit, "err", err)
		return api.TriggerResult{}, helpful(err)
	}
	outcome := "started"
	if e.Kind == pipeline.EventMerge {
		outcome = "promoted"
	}
	sourceEvents.With(labelEventKind, string(e.Kind), labelOutcome, outcome).Add(1)
	return api.TriggerResult{Run: &run}, nil
}

func (d *Daemon) ListServices(ctx context.Context) ([]artifact.Service, error) {
	return d.Pipeline.Services(), nil
}

func (d *Daemon) ListRuns(ctx context.Context) ([]pipeline.Summary, error) {
	return d.Pipeline.Runs(), nil
}

func (d *Daemon) RunStatus(ctx context.Context, id pipeline.RunID) (pipeline.Run, error) {
	run, err := d.Pipeline.Run(id)
	return run, helpful(err)
}

func (d *Daemon) RunEvents(ctx context.Context, id pipeline.RunID) ([]history.Event, error) {
	if _, err := d.Pipeline.Run(id); err != nil {
		return nil, helpful(err)
	}
	if d.History == nil {
		return []history.Event{}, nil
	}
	events, err := d.History.EventsForRun(string(id))
	if err != nil {
		return nil, historyUnavailableError(errors.Wrapf(err, "reading events for run %s", id))
	}
	return events, nil
}

func (d *Daemon) Promote(ctx context.Context, id pipeline.RunID, opts api.PromoteOptions) (pipeline.Run, error) {
	run, err := d.Pipeline.Promote(ctx, id, opts.Versions)
	operatorActions.With("action", "promote", "success", fmt.Sprint(err == nil)).Add(1)
	if err != nil {
		d.Logger.Log("run", id, "promote", "rejected", "err", err)
	}
	return run, helpful(err)
}

func (d *Daemon) Abort(ctx context.Context, id pipeline.RunID) (pipeline.Run, error) {
	run, err := d.Pipeline.Abort(id)
	operatorActions.With("action", "abort", "success", fmt.Sprint(err == nil)).Add(1)
	if err != nil {
		d.Logger.Log("run", id, "abort", "rejected", "err", err)
	}
	return run, helpful(err)
}
