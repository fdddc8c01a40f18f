package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

type listOpts struct {
	*rootOpts
	outputFormat string
}

func newList(parent *rootOpts) *listOpts {
	return &listOpts{rootOpts: parent}
}

func (opts *listOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"list-runs"},
		Short:   "List the pipeline runs conveyord remembers, newest first.",
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTable, "output format (one of tab, json)")
	return cmd
}

func (opts *listOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if !outputFormatIsValid(opts.outputFormat) {
		return errorInvalidOutputFormat
	}

	ctx, cancel := opts.context()
	defer cancel()

	runs, err := opts.API.ListRuns(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if opts.outputFormat == outputFormatJSON {
		return writeJSON(cmd.OutOrStdout(), runs)
	}

	now := time.Now()
	w := newTabwriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "RUN\tTRIGGER\tCOMMIT\tSTATE\tEXIT\tAGE\n")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.Trigger, shortCommit(r.Commit), r.State, r.ExitCode, age(r.CreatedAt, now))
	}
	return w.Flush()
}
