package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"pkt.systems/etcdgw/internal/version"
)

func newVersionCommand() *cobra.Command {
	var versionOnly bool
	var semverOnly bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the etcdgw version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if versionOnly && semverOnly {
				return errors.New("--version and --semver are mutually exclusive")
			}
			var err error
			switch {
			case versionOnly:
				_, err = fmt.Fprintln(cmd.OutOrStdout(), version.Current())
			case semverOnly:
				_, err = fmt.Fprintln(cmd.OutOrStdout(), version.CurrentSemver())
			default:
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Module(), version.Current())
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&versionOnly, "version", false, "print only the version")
	cmd.Flags().BoolVar(&semverOnly, "semver", false, "print only the version without build metadata")
	return cmd
}
