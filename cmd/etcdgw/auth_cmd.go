package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/session"
)

const envPassword = "ETCDGW_PASSWORD"

func newAuthCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Enable or disable authentication and manage the login session",
	}
	cmd.AddCommand(
		newAuthEnableCommand(cfg),
		newAuthDisableCommand(cfg),
		newAuthLoginCommand(cfg),
		newAuthLogoutCommand(cfg),
		newAuthStatusCommand(cfg),
	)
	return cmd
}

// readPassword returns the flag value, then $ETCDGW_PASSWORD, then the first
// line of stdin.
func readPassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(envPassword); env != "" {
		return env, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("password required (--password, %s or stdin)", envPassword)
	}
	return line, nil
}

func newAuthEnableCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Enable authentication (requires the root user)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.AuthEnable(ctx)
				if err != nil {
					return err
				}
				if err := session.Remove(cfg.cfg.SessionPath); err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintln(out, "Authentication Enabled")
					return err
				})
			})
		},
	}
}

func newAuthDisableCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable authentication",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.AuthDisable(ctx)
				if err != nil {
					return err
				}
				if err := session.Remove(cfg.cfg.SessionPath); err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintln(out, "Authentication Disabled")
					return err
				})
			})
		},
	}
}

func newAuthLoginCommand(cfg *cliConfig) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login USER",
		Short: "Authenticate and store the token in the encrypted session file",
		Example: `  etcdgw auth login root --password secret
  echo secret | etcdgw auth login root`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				cli.ClearToken()
				if _, err := cli.Login(ctx, args[0], pw); err != nil {
					return err
				}
				if err := cfg.saveSession(cli, args[0]); err != nil {
					return err
				}
				status := map[string]any{
					"user":    args[0],
					"server":  cli.Server(),
					"session": cfg.cfg.SessionPath,
				}
				return cfg.emit(cmd.OutOrStdout(), status, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "logged in as %s (session %s)\n", args[0], cfg.cfg.SessionPath)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (default $"+envPassword+" or stdin)")
	return cmd
}

func newAuthLogoutCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := cfg.load(); err != nil {
				return err
			}
			defer cfg.cleanup(cmd.Context())
			if err := session.Remove(cfg.cfg.SessionPath); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return err
		},
	}
}

type authStatus struct {
	LoggedIn  bool      `json:"logged_in" yaml:"logged_in"`
	Session   string    `json:"session" yaml:"session"`
	User      string    `json:"user,omitempty" yaml:"user,omitempty"`
	Server    string    `json:"server,omitempty" yaml:"server,omitempty"`
	Version   string    `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	Matches   bool      `json:"matches_server" yaml:"matches_server"`
}

func newAuthStatusCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := cfg.load(); err != nil {
				return err
			}
			defer cfg.cleanup(cmd.Context())
			status := authStatus{Session: cfg.cfg.SessionPath}
			data, err := session.Load(cfg.cfg.SessionPath)
			switch {
			case err == nil:
				status.LoggedIn = true
				status.User = data.User
				status.Server = data.Server
				status.Version = data.APIVersion
				status.UpdatedAt = data.UpdatedAt
				status.Matches = data.Matches(cfg.cfg.Server, cfg.cfg.APIVersion)
			case errors.Is(err, session.ErrNoSession):
			default:
				return err
			}
			return cfg.emit(cmd.OutOrStdout(), status, func(out io.Writer) error {
				if !status.LoggedIn {
					_, err := fmt.Fprintf(out, "not logged in (session %s)\n", status.Session)
					return err
				}
				note := ""
				if !status.Matches {
					note = " (different server, not used)"
				}
				_, err := fmt.Fprintf(out, "logged in as %s on %s %s since %s%s\n",
					status.User, status.Server, status.Version, status.UpdatedAt.Format(time.RFC3339), note)
				return err
			})
		},
	}
}
