package registry

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/fluxcd/conveyor/pkg/artifact"
	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
	"github.com/fluxcd/conveyor/pkg/image"
)

// Registry is a durable store of artifacts, keyed by the immutable
// (service, version) pair. An artifact is either absent or fully
// present; there is no visible intermediate state.
type Registry interface {
	// Push stores the artifact. Pushing a version that is already
	// present succeeds without doing anything.
	Push(ctx context.Context, a artifact.Artifact) error
	// Exists reports whether the version of the service is present.
	Exists(ctx context.Context, service, version string) (bool, error)
	// Pull returns the reference from which a runtime can fetch the
	// version, pinned to its digest; or a NotFoundError.
	Pull(ctx context.Context, service, version string) (image.Ref, error)
}

// Error is a failure talking to the registry. Transient errors are
// worth retrying; others (authentication, permissions, bad requests)
// are not.
type Error struct {
	Op        string
	Service   string
	Version   string
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	kind := "terminal"
	if e.Temporary {
		kind = "transient"
	}
	return fmt.Sprintf("registry %s %s:%s (%s): %s", e.Op, e.Service, e.Version, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Transient() bool {
	return e.Temporary
}

// NotFoundError says there is no such version of the service in the
// registry.
type NotFoundError struct {
	ID artifact.ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %s not found in registry", e.ID)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Help returns the error in a form fit for an operator.
func Help(err error) *fluxerr.Error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return &fluxerr.Error{
			Type: fluxerr.Missing,
			Err:  err,
			Help: `The artifact ` + nf.ID.String() + ` is not in the registry.

Only versions that have been built and published by a pipeline run can
be deployed. Check the version, or trigger a run for the source it was
built from.
`,
		}
	}
	var re *Error
	if errors.As(err, &re) && !re.Temporary {
		return &fluxerr.Error{
			Type: fluxerr.User,
			Err:  err,
			Help: `The registry refused a request:

    ` + err.Error() + `

This usually means the configured registry credentials are missing or
do not allow pushing to the repository. Check --registry-username and
--registry-password, and the permissions of that account.
`,
		}
	}
	return &fluxerr.Error{
		Type: fluxerr.Server,
		Err:  err,
		Help: `The registry could not be reached, even after retrying:

    ` + err.Error() + `

It is worth triggering the run again once the registry is available.
`,
	}
}
