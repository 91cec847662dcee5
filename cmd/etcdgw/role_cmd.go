package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"pkt.systems/etcdgw/client"
)

func newRoleCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage roles and their key permissions",
	}
	cmd.AddCommand(
		newRoleAddCommand(cfg),
		newRoleGetCommand(cfg),
		newRoleDeleteCommand(cfg),
		newRoleListCommand(cfg),
		newRoleGrantPermissionCommand(cfg),
		newRoleRevokePermissionCommand(cfg),
	)
	return cmd
}

func newRoleAddCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "add ROLE",
		Short: "Create a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.AddRole(ctx, args[0])
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "Role %s created\n", args[0])
					return err
				})
			})
		},
	}
}

func newRoleGetCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "get ROLE",
		Short: "Show the permissions of a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.GetRole(ctx, args[0])
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					if _, err := fmt.Fprintf(out, "Role %s\n", args[0]); err != nil {
						return err
					}
					for _, perm := range res.Body.Perms() {
						line := fmt.Sprintf("\t%s\t%s", perm.PermType, perm.Key)
						if perm.RangeEnd != "" {
							line = fmt.Sprintf("%s\t[%s, %s)", line, perm.Key, perm.RangeEnd)
						}
						if _, err := fmt.Fprintln(out, line); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}

func newRoleDeleteCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:     "delete ROLE",
		Aliases: []string{"del", "rm"},
		Short:   "Delete a role",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.DeleteRole(ctx, args[0])
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "Role %s deleted\n", args[0])
					return err
				})
			})
		},
	}
}

func newRoleListCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List roles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.RoleList(ctx)
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					return writeLines(out, res.Body.Roles())
				})
			})
		},
	}
}

func newRoleGrantPermissionCommand(cfg *cliConfig) *cobra.Command {
	var prefix bool
	cmd := &cobra.Command{
		Use:   "grant-permission ROLE read|write|readwrite KEY [RANGE_END]",
		Short: "Grant a role access to a key or range",
		Example: `  etcdgw role grant-permission app readwrite /app/ --prefix
  etcdgw role grant-permission audit read a z`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			permType, ok := client.ParsePermissionType(args[1])
			if !ok {
				return fmt.Errorf("invalid permission type %q (read|write|readwrite)", args[1])
			}
			rangeEnd, err := permissionRangeEnd(args[2:], prefix)
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.GrantRolePermission(ctx, args[0], permType, args[2], rangeEnd)
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "Role %s updated\n", args[0])
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVar(&prefix, "prefix", false, "apply the permission to every key starting with KEY")
	return cmd
}

func newRoleRevokePermissionCommand(cfg *cliConfig) *cobra.Command {
	var prefix bool
	cmd := &cobra.Command{
		Use:   "revoke-permission ROLE KEY [RANGE_END]",
		Short: "Revoke a role's access to a key or range",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rangeEnd, err := permissionRangeEnd(args[1:], prefix)
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.RevokeRolePermission(ctx, args[0], args[1], rangeEnd)
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "Permission of key %s is revoked from role %s\n", args[1], args[0])
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVar(&prefix, "prefix", false, "revoke the prefix permission on KEY")
	return cmd
}

// permissionRangeEnd takes KEY [RANGE_END].
func permissionRangeEnd(args []string, prefix bool) (string, error) {
	switch {
	case prefix && len(args) > 1:
		return "", errors.New("--prefix and RANGE_END are mutually exclusive")
	case prefix:
		return client.PrefixRangeEnd(args[0]), nil
	case len(args) > 1:
		return args[1], nil
	default:
		return "", nil
	}
}
