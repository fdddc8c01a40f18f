package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
	"github.com/fluxcd/conveyor/pkg/http/httperror"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line given, and returns the exit code:
// that of the run awaited, if there was one, otherwise 0 for success
// and 1 for any other error.
func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRoot().Command()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return 0
	}

	var (
		exit    *exitError
		usage   *usageError
		apiErr  *httperror.APIError
		niceErr *fluxerr.Error
	)
	switch {
	case errors.As(err, &exit):
		return exit.code
	case errors.As(err, &usage):
		fmt.Fprintf(stderr, "Error: %s\n\n", usage.Error())
		fmt.Fprintln(stderr, cmd.UsageString())
	case errors.As(err, &niceErr):
		fmt.Fprintf(stderr, "Error: %s\n\n%s", niceErr.Error(), niceErr.Help)
	case errors.As(err, &apiErr) && apiErr.IsMissing():
		fmt.Fprintf(stderr, "Error: endpoint not found (%s)\n\nconveyord may be older than conveyorctl; compare their versions with\n\n    conveyorctl version --server\n", apiErr.Status)
	default:
		fmt.Fprintf(stderr, "Error: %s\n", err.Error())
	}
	return 1
}
