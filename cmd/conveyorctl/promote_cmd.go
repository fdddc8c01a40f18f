package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxcd/conveyor/pkg/api"
	"github.com/fluxcd/conveyor/pkg/pipeline"
)

type promoteOpts struct {
	*rootOpts
	versions []string
	await    bool
}

func newPromote(parent *rootOpts) *promoteOpts {
	return &promoteOpts{rootOpts: parent}
}

func (opts *promoteOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote RUN_ID",
		Short: "Deploy the versions a run verified in staging to production.",
		Long: `Deploy the versions a run verified in staging to production.

Versions of services may be given instead of those the run built, so
long as together they are a set of versions some run has verified.`,
		Example: `  conveyorctl promote 5f0c8a9e-6c1b-4d0e-9c67-2b0e6f1d2a11 --await
  conveyorctl promote 5f0c8a9e-6c1b-4d0e-9c67-2b0e6f1d2a11 --version api=3f9a2c1d0b4e`,
		RunE: opts.RunE,
	}
	cmd.Flags().StringSliceVar(&opts.versions, "version", nil, "service=version to deploy instead of what the run built; may be repeated")
	cmd.Flags().BoolVarP(&opts.await, "await", "w", false, "wait for the deployment to finish, and exit with the run's exit code")
	return cmd
}

func parseVersions(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	versions := map[string]string{}
	for _, p := range pairs {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, newUsageError(fmt.Sprintf("expected service=version, got %q", p))
		}
		if _, dup := versions[kv[0]]; dup {
			return nil, newUsageError(fmt.Sprintf("version of %s given more than once", kv[0]))
		}
		versions[kv[0]] = kv[1]
	}
	return versions, nil
}

func (opts *promoteOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}
	versions, err := parseVersions(opts.versions)
	if err != nil {
		return err
	}

	ctx, cancel := opts.context()
	defer cancel()

	run, err := opts.API.Promote(ctx, pipeline.RunID(args[0]), api.PromoteOptions{Versions: versions})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\t%s\n", run.ID, run.State)
	if !opts.await {
		return nil
	}
	run, err = awaitRun(ctx, out, opts.API, run.ID, true)
	if err != nil {
		return err
	}
	return finish(out, run)
}
