package main

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
)

var version string

func getVersion() string {
	if version == "" {
		return "unversioned"
	}
	return version
}

func newVersionCommand(opts *rootOpts) *cobra.Command {
	var server bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Output the version of conveyorctl, and optionally of conveyord",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return errorWantedNoArgs
			}
			fmt.Fprintf(cmd.OutOrStdout(), "conveyorctl: %s\n", getVersion())
			if !server {
				return nil
			}

			ctx, cancel := opts.context()
			defer cancel()
			serverVersion, err := opts.API.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "conveyord: %s\n", serverVersion)
			if ok, err := compatible(getVersion(), serverVersion); err == nil && !ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: conveyord %s may not support everything conveyorctl %s does\n", serverVersion, getVersion())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&server, "server", false, "also ask conveyord for its version, and check they are compatible")
	return cmd
}

// compatible says whether a server can serve a client: it must have
// the same major version and at least the client's minor version
// (for 0.x, the same minor version). Versions that are not semver,
// e.g., development builds, cannot be compared.
func compatible(client, server string) (bool, error) {
	c, err := semver.NewVersion(client)
	if err != nil {
		return false, err
	}
	s, err := semver.NewVersion(server)
	if err != nil {
		return false, err
	}
	constraint, err := semver.NewConstraint(fmt.Sprintf("^%d.%d.0-0", c.Major(), c.Minor()))
	if err != nil {
		return false, err
	}
	return constraint.Check(s), nil
}
