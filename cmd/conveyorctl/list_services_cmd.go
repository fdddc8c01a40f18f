package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type listServicesOpts struct {
	*rootOpts
	outputFormat string
}

func newListServices(parent *rootOpts) *listServicesOpts {
	return &listServicesOpts{rootOpts: parent}
}

func (opts *listServicesOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list-services",
		Aliases: []string{"services"},
		Short:   "List the services the pipeline delivers, and the versions in production.",
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.outputFormat, "output-format", "o", outputFormatTable, "output format (one of tab, json)")
	return cmd
}

func (opts *listServicesOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if !outputFormatIsValid(opts.outputFormat) {
		return errorInvalidOutputFormat
	}

	ctx, cancel := opts.context()
	defer cancel()

	services, err := opts.API.ListServices(ctx)
	if err != nil {
		return err
	}
	if opts.outputFormat == outputFormatJSON {
		return writeJSON(cmd.OutOrStdout(), services)
	}

	w := newTabwriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "SERVICE\tPORT\tDATABASE\tPRODUCTION\n")
	for _, s := range services {
		database := ""
		if s.Database {
			database = "yes"
		}
		current := s.CurrentVersion
		if current == "" {
			current = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.Name, s.Port, database, current)
	}
	return w.Flush()
}
