package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"pkt.systems/etcdgw/client"
)

func newUserCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users and their roles",
	}
	cmd.AddCommand(
		newUserAddCommand(cfg),
		newUserGetCommand(cfg),
		newUserDeleteCommand(cfg),
		newUserListCommand(cfg),
		newUserPasswdCommand(cfg),
		newUserGrantRoleCommand(cfg),
		newUserRevokeRoleCommand(cfg),
	)
	return cmd
}

func newUserAddCommand(cfg *cliConfig) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "add USER",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.AddUser(ctx, args[0], pw)
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "User %s created\n", args[0])
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (default $"+envPassword+" or stdin)")
	return cmd
}

func newUserGetCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "get USER",
		Short: "Show the roles granted to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					if _, err := fmt.Fprintf(out, "User: %s\nRoles:\n", args[0]); err != nil {
						return err
					}
					return writeLines(out, res.Body.Roles())
				})
			})
		},
	}
}

func newUserDeleteCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:     "delete USER",
		Aliases: []string{"del", "rm"},
		Short:   "Delete a user",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.DeleteUser(ctx, args[0])
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "User %s deleted\n", args[0])
					return err
				})
			})
		},
	}
}

func newUserListCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List users",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.UserList(ctx)
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					return writeLines(out, res.Body.Users())
				})
			})
		},
	}
}

func newUserPasswdCommand(cfg *cliConfig) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "passwd USER",
		Short: "Change a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.ChangeUserPassword(ctx, args[0], pw)
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintln(out, "Password updated")
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "new password (default $"+envPassword+" or stdin)")
	return cmd
}

func newUserGrantRoleCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "grant-role USER ROLE",
		Short: "Grant a role to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.GrantUserRole(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "Role %s is granted to user %s\n", args[1], args[0])
					return err
				})
			})
		},
	}
}

func newUserRevokeRoleCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-role USER ROLE",
		Short: "Revoke a role from a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.RevokeUserRole(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "Role %s is revoked from user %s\n", args[1], args[0])
					return err
				})
			})
		},
	}
}
