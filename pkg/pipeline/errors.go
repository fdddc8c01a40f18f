package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
)

// ErrIgnored is returned for trigger events that match neither the
// integration nor the main branch.
var ErrIgnored = errors.New("event does not match a pipeline branch")

// HealthCheckTimeout means services did not become healthy within the
// deadline. It is terminal for the run; nothing is undone.
type HealthCheckTimeout struct {
	Environment string
	Failing     []string
	Deadline    time.Duration
}

func (e *HealthCheckTimeout) Error() string {
	return fmt.Sprintf("services in %s not healthy within %s: %s", e.Environment, e.Deadline, strings.Join(e.Failing, ", "))
}

// AcceptanceError means the acceptance tests against staging did not
// pass.
type AcceptanceError struct {
	Environment string
	Failing     []string
	Err         error
}

func (e *AcceptanceError) Error() string {
	if len(e.Failing) > 0 {
		return fmt.Sprintf("acceptance tests failed in %s for %s: %s", e.Environment, strings.Join(e.Failing, ", "), e.Err)
	}
	return fmt.Sprintf("acceptance tests failed in %s: %s", e.Environment, e.Err)
}

func (e *AcceptanceError) Unwrap() error {
	return e.Err
}

// PromotionRejected is returned when asked to deploy a set of
// versions that has not passed acceptance testing, or a run that is
// not waiting to be promoted.
type PromotionRejected struct {
	Run    RunID
	Reason string
}

func (e *PromotionRejected) Error() string {
	if e.Run == "" {
		return "promotion rejected: " + e.Reason
	}
	return fmt.Sprintf("promotion of run %s rejected: %s", e.Run, e.Reason)
}

func (e *PromotionRejected) Help() *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  e,
		Help: e.Error() + `

Only a run awaiting promotion can be promoted, and only with versions
that passed acceptance testing in staging, in that run or in another
run that built exactly the same versions. Check the run with

    conveyorctl status --run <id>

and trigger a new run if the versions you want have not been staged.
`,
	}
}

// AbortRejected is returned when asked to abort a run that has
// finished, or has started deploying to production.
type AbortRejected struct {
	Run   RunID
	State State
}

func (e *AbortRejected) Error() string {
	return fmt.Sprintf("run %s cannot be aborted in state %s", e.Run, e.State)
}

func (e *AbortRejected) Help() *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  e,
		Help: e.Error() + `

A run can be aborted up until it starts deploying to production. Once a
production deployment has begun, it runs to completion.
`,
	}
}

func unknownRun(id RunID) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.Missing,
		Err:  fmt.Errorf("run %s not found", id),
		Help: `The run ` + string(id) + ` is not known. It may have finished long enough
ago to have been forgotten; list the runs that are kept with

    conveyorctl list
`,
	}
}
