package daemon

import (
	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
)

// helper is implemented by errors that know how to explain themselves
// to an operator.
type helper interface {
	Help() *fluxerr.Error
}

// helpful turns an error from the pipeline into one the API can
// report with some advice; errors that are already API errors, or
// offer no advice, are passed on as they are.
func helpful(err error) error {
	if err == nil {
		return nil
	}
	var ferr *fluxerr.Error
	if errors.As(err, &ferr) {
		return ferr
	}
	var h helper
	if errors.As(err, &h) {
		return h.Help()
	}
	return err
}

func historyUnavailableError(err error) error {
	return &fluxerr.Error{
		Type: fluxerr.Server,
		Err:  err,
		Help: `The history of the run could not be read

conveyord records the events in each run, and could not read them back:

    ` + err.Error() + `

The run itself is unaffected. If the history is kept in a database,
check that the database is reachable from conveyord.
`,
	}
}
