package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxcd/conveyor/pkg/pipeline"
)

type triggerOpts struct {
	*rootOpts
	branch string
	commit string
	kind   string
	await  bool
}

func newTrigger(parent *rootOpts) *triggerOpts {
	return &triggerOpts{rootOpts: parent}
}

func (opts *triggerOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Tell conveyord about a change to the source, as a webhook would.",
		Example: `  conveyorctl trigger --branch develop --commit 4b825dc
  conveyorctl trigger --kind merge --branch main --commit 9fceb02 --await`,
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.branch, "branch", "b", "", "branch that changed")
	cmd.Flags().StringVarP(&opts.commit, "commit", "c", "", "commit the branch now points at")
	cmd.Flags().StringVarP(&opts.kind, "kind", "k", string(pipeline.EventPush), "kind of change, push or merge")
	cmd.Flags().BoolVarP(&opts.await, "await", "w", false, "wait for the run to finish, or to be ready for promotion, and exit with its exit code")
	return cmd
}

func (opts *triggerOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.branch == "" {
		return newUsageError("--branch is required")
	}
	kind := pipeline.EventKind(opts.kind)
	if kind != pipeline.EventPush && kind != pipeline.EventMerge {
		return newUsageError(fmt.Sprintf("--kind must be %s or %s", pipeline.EventPush, pipeline.EventMerge))
	}

	ctx, cancel := opts.context()
	defer cancel()

	res, err := opts.API.NotifyChange(ctx, pipeline.Event{
		Branch: opts.branch,
		Commit: opts.commit,
		Kind:   kind,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.Ignored || res.Run == nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Ignored: %s is not a branch the pipeline follows\n", opts.branch)
		return nil
	}
	fmt.Fprintf(out, "%s\t%s\n", res.Run.ID, res.Run.State)
	if !opts.await {
		return nil
	}
	run, err := awaitRun(ctx, out, opts.API, res.Run.ID, kind == pipeline.EventMerge)
	if err != nil {
		return err
	}
	return finish(out, run)
}
