package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/conveyor/pkg/pipeline"
)

type statusOpts struct {
	*rootOpts
	outputFormat string
}

func newStatus(parent *rootOpts) *statusOpts {
	return &statusOpts{rootOpts: parent}
}

func (opts *statusOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status RUN_ID",
		Short:   "Show the state of a run, and how each of its stages went.",
		Example: "  conveyorctl status 5f0c8a9e-6c1b-4d0e-9c67-2b0e6f1d2a11",
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTable, "output format (one of tab, json)")
	return cmd
}

func (opts *statusOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}
	if !outputFormatIsValid(opts.outputFormat) {
		return errorInvalidOutputFormat
	}

	ctx, cancel := opts.context()
	defer cancel()

	run, err := opts.API.RunStatus(ctx, pipeline.RunID(args[0]))
	if err != nil {
		return err
	}
	if opts.outputFormat == outputFormatJSON {
		return writeJSON(cmd.OutOrStdout(), run)
	}
	printRun(cmd.OutOrStdout(), run, time.Now())
	return nil
}
