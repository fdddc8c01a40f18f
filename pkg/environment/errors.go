package environment

import (
	"fmt"

	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
)

// ProvisionError is a failure to create, update or destroy an
// environment. Transient errors (the infrastructure API being busy or
// unreachable) are worth retrying; terminal ones (quota, invalid
// configuration, permissions) are not.
type ProvisionError struct {
	Op          string
	Environment string
	Temporary   bool
	Err         error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("%s environment %s: %s", e.Op, e.Environment, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

func (e *ProvisionError) Transient() bool {
	return e.Temporary
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Help returns the error in a form fit for an operator.
func Help(err error) *fluxerr.Error {
	if IsNotFound(err) {
		return &fluxerr.Error{
			Type: fluxerr.Missing,
			Err:  err,
			Help: err.Error() + `

The environment may already have been torn down, or was never
created.
`,
		}
	}
	var pe *ProvisionError
	if errors.As(err, &pe) && !pe.Temporary {
		return &fluxerr.Error{
			Type: fluxerr.User,
			Err:  err,
			Help: `The environment could not be provisioned:

    ` + err.Error() + `

This is not likely to go away by itself. Check the cluster's quotas and
the permissions of the account conveyord runs as, and that the images
named in the pipeline can be pulled by the cluster.
`,
		}
	}
	return &fluxerr.Error{
		Type: fluxerr.Server,
		Err:  err,
		Help: `The environment could not be provisioned:

    ` + err.Error() + `

The infrastructure did not respond in time, even after retrying. It is
worth trying again.
`,
	}
}
