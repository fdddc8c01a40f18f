package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxcd/conveyor/pkg/pipeline"
)

type abortOpts struct {
	*rootOpts
}

func newAbort(parent *rootOpts) *abortOpts {
	return &abortOpts{rootOpts: parent}
}

func (opts *abortOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "abort RUN_ID",
		Short: "Stop a run that has not yet started deploying to production.",
		RunE:  opts.RunE,
	}
}

func (opts *abortOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}

	ctx, cancel := opts.context()
	defer cancel()

	run, err := opts.API.Abort(ctx, pipeline.RunID(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", run.ID, run.State)
	return nil
}
