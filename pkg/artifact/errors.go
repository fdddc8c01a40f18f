package artifact

import (
	"fmt"

	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
)

type BuildErrorKind string

const (
	// TestFailure means the unit tests ran and did not pass. Nothing
	// is produced, and the run cannot continue.
	TestFailure BuildErrorKind = "TestFailure"
	// PackageFailure means the source tree could not be read or
	// packaged.
	PackageFailure BuildErrorKind = "PackageFailure"
)

type BuildError struct {
	Kind    BuildErrorKind
	Service string
	// Output is the tail of the test output, when there is one.
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s building %s: %s", e.Kind, e.Service, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Transient is always false: a build of the same source will fail
// the same way.
func (e *BuildError) Transient() bool {
	return false
}

// Help returns an error suitable for showing to an operator.
func (e *BuildError) Help() *fluxerr.Error {
	help := `The build of ` + e.Service + ` failed.

`
	switch e.Kind {
	case TestFailure:
		help += `Its unit tests did not pass, so no artifact was produced or
published. Fix the tests and push again to start a new run.
`
	default:
		help += `The source tree could not be packaged. Check that the
configured source directory exists and is readable.
`
	}
	if e.Output != "" {
		help += `
Output:

` + e.Output + `
`
	}
	return &fluxerr.Error{
		Type: fluxerr.User,
		Help: help,
		Err:  e,
	}
}
