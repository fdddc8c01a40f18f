package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fluxcd/conveyor/pkg/api"
	"github.com/fluxcd/conveyor/pkg/pipeline"
)

var ErrTimeout = errors.New("timeout")

// awaitRun polls for a run to finish, or to get as far as awaiting
// promotion if pastPromotion is false, then reports how it went.
func awaitRun(ctx context.Context, out io.Writer, client api.Server, id pipeline.RunID, pastPromotion bool) (pipeline.Run, error) {
	var (
		run  pipeline.Run
		last pipeline.State
	)
	err := backoff(ctx, 500*time.Millisecond, 2, 20, func() (bool, error) {
		r, err := client.RunStatus(ctx, id)
		if err != nil {
			return false, err
		}
		run = r
		if r.State != last {
			fmt.Fprintf(out, "%s\t%s\n", r.ID, r.State)
			last = r.State
		}
		if r.State.Terminal() {
			return true, nil
		}
		return r.State == pipeline.AwaitingPromotion && !pastPromotion, nil
	})
	return run, err
}

// backoff polls for f() to have been completed, with exponential
// backoff, until the context is done.
func backoff(ctx context.Context, initialDelay, factor, maxFactor time.Duration, f func() (bool, error)) error {
	maxDelay := initialDelay * maxFactor
	for delay := initialDelay; ; delay = min(delay*factor, maxDelay) {
		ok, err := f()
		if ok || err != nil {
			return err
		}
		// If we don't have time to try again, stop
		if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
			return ErrTimeout
		}
		select {
		case <-ctx.Done():
			return ErrTimeout
		case <-time.After(delay):
		}
	}
}

// finish reports a run that has been waited for and turns its
// outcome into the exit code.
func finish(out io.Writer, run pipeline.Run) error {
	if run.Failure != nil {
		fmt.Fprintf(out, "Failed at %s: %s\n", run.Failure.Stage, describeFailure(*run.Failure))
	}
	if code := run.ExitCode(); code != pipeline.ExitSucceeded {
		return &exitError{code: code}
	}
	return nil
}
