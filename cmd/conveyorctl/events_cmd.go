package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxcd/conveyor/pkg/pipeline"
)

type eventsOpts struct {
	*rootOpts
	outputFormat string
}

func newEvents(parent *rootOpts) *eventsOpts {
	return &eventsOpts{rootOpts: parent}
}

func (opts *eventsOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events RUN_ID",
		Short: "Show the recorded history of a run, newest first.",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTable, "output format (one of tab, json)")
	return cmd
}

func (opts *eventsOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}
	if !outputFormatIsValid(opts.outputFormat) {
		return errorInvalidOutputFormat
	}

	ctx, cancel := opts.context()
	defer cancel()

	events, err := opts.API.RunEvents(ctx, pipeline.RunID(args[0]))
	if err != nil {
		return err
	}
	if opts.outputFormat == outputFormatJSON {
		return writeJSON(cmd.OutOrStdout(), events)
	}

	w := newTabwriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "TIME\tTYPE\tSTAGE\tSERVICES\tMESSAGE\n")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.StartedAt.Format(time.RFC3339), e.Type, e.Stage, strings.Join(e.Services, ","), e.Message)
	}
	return w.Flush()
}
