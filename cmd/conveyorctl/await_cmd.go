package main

import (
	"github.com/spf13/cobra"

	"github.com/fluxcd/conveyor/pkg/pipeline"
)

type awaitOpts struct {
	*rootOpts
	production bool
}

func newAwait(parent *rootOpts) *awaitOpts {
	return &awaitOpts{rootOpts: parent}
}

func (opts *awaitOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "await RUN_ID",
		Short: "Wait for a run to finish, or be ready for promotion, and exit with its exit code.",
		Long: `Wait for a run to finish, or be ready for promotion, and exit with its exit code:

  0  succeeded, or awaiting promotion
  1  failed building, testing or publishing, or aborted
  2  failed provisioning an environment
  3  failed health checks

Use --timeout to say how long to wait.`,
		RunE: opts.RunE,
	}
	cmd.Flags().BoolVar(&opts.production, "production", false, "keep waiting past promotion, until the run has finished")
	return cmd
}

func (opts *awaitOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}

	ctx, cancel := opts.context()
	defer cancel()

	run, err := awaitRun(ctx, cmd.OutOrStdout(), opts.API, pipeline.RunID(args[0]), opts.production)
	if err != nil {
		return err
	}
	return finish(cmd.OutOrStdout(), run)
}
