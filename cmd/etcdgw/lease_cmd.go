package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/session"
)

func newLeaseCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Grant, refresh and revoke leases",
	}
	cmd.AddCommand(
		newLeaseGrantCommand(cfg),
		newLeaseRevokeCommand(cfg),
		newLeaseKeepAliveCommand(cfg),
		newLeaseTTLCommand(cfg),
	)
	return cmd
}

// parseLeaseID accepts decimal IDs and the hex form etcdctl prints.
func parseLeaseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	var id int64
	var err error
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		var u uint64
		u, err = strconv.ParseUint(raw[2:], 16, 64)
		id = int64(u)
	} else {
		id, err = strconv.ParseInt(raw, 10, 64)
	}
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid lease ID %q", raw)
	}
	return id, nil
}

func formatLeaseID(id int64) string {
	return strconv.FormatUint(uint64(id), 16)
}

func newLeaseGrantCommand(cfg *cliConfig) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "grant TTL",
		Short: "Create a lease (TTL in seconds or as a duration)",
		Example: `  etcdgw lease grant 60
  etcdgw lease grant 2m --id 0x694d9b9a4b8e3c01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := parseTTLSeconds(args[0])
			if err != nil {
				return err
			}
			var leaseID int64
			if id != "" {
				if leaseID, err = parseLeaseID(id); err != nil {
					return err
				}
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.Grant(ctx, ttl, leaseID)
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "lease %s granted with TTL(%ds)\n", formatLeaseID(res.Body.LeaseID()), res.Body.TTL())
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "request a specific lease ID (default server assigned)")
	return cmd
}

func parseTTLSeconds(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("ttl must be > 0")
		}
		return n, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q", raw)
	}
	if d < time.Second {
		return 0, fmt.Errorf("ttl must be at least 1s")
	}
	return int64(d / time.Second), nil
}

func newLeaseRevokeCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke ID",
		Short: "Revoke a lease and delete its keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLeaseID(args[0])
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.Revoke(ctx, id)
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "lease %s revoked\n", formatLeaseID(id))
					return err
				})
			})
		},
	}
}

func newLeaseKeepAliveCommand(cfg *cliConfig) *cobra.Command {
	var every time.Duration
	var count int
	cmd := &cobra.Command{
		Use:   "keepalive ID",
		Short: "Refresh a lease once, or periodically with --every",
		Example: `  etcdgw lease keepalive 0x694d9b9a4b8e3c01
  etcdgw lease keepalive 0x694d9b9a4b8e3c01 --every 10s --count 6`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLeaseID(args[0])
			if err != nil {
				return err
			}
			if every < 0 || count < 0 {
				return fmt.Errorf("--every and --count must be >= 0")
			}
			if every == 0 {
				count = 1
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				return cfg.keepAliveLoop(ctx, cmd.OutOrStdout(), cli, id, every, count)
			})
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat the keepalive at this interval until interrupted")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many keepalives (0 = until interrupted)")
	return cmd
}

// keepAliveLoop refreshes the lease until ctx ends, count refreshes were
// sent, or the lease is gone. A session file change (another terminal ran
// auth login) swaps in the new token unless --token pinned one.
func (c *cliConfig) keepAliveLoop(ctx context.Context, out io.Writer, cli *client.Client, id int64, every time.Duration, count int) error {
	logger := c.cliLogger("cli.lease.keepalive")
	var reload <-chan struct{}
	if every > 0 && c.tokenSource != "flag" {
		watcher, err := session.Watch(c.cfg.SessionPath)
		if err != nil {
			logger.Warn("session.watch.error", "error", err)
		} else {
			defer watcher.Close()
			reload = watcher.Events()
		}
	}
	for sent := 0; count == 0 || sent < count; sent++ {
		res, err := cli.KeepAlive(ctx, id)
		if err != nil {
			return err
		}
		ttl := res.Body.TTL()
		if ttl <= 0 {
			return fmt.Errorf("lease %s expired or not found", formatLeaseID(id))
		}
		if err := c.emitResult(out, res, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "lease %s keepalived with TTL(%d)\n", formatLeaseID(id), ttl)
			return err
		}); err != nil {
			return err
		}
		if count != 0 && sent+1 >= count {
			return nil
		}
		timer := c.clock.After(every)
	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-timer:
				break wait
			case _, ok := <-reload:
				if !ok {
					reload = nil
					continue
				}
				c.reloadSessionToken(cli)
			}
		}
	}
	return nil
}

func (c *cliConfig) reloadSessionToken(cli *client.Client) {
	logger := c.cliLogger("cli.session")
	data, err := session.Load(c.cfg.SessionPath)
	if err != nil {
		logger.Debug("session.reload.skip", "error", err)
		return
	}
	if !data.Matches(cli.Server(), cli.Version()) {
		logger.Debug("session.reload.mismatch", "session_server", data.Server)
		return
	}
	data.Apply(cli.Session())
	logger.Info("session.reloaded", "user", data.User)
}

func newLeaseTTLCommand(cfg *cliConfig) *cobra.Command {
	var keys bool
	cmd := &cobra.Command{
		Use:     "ttl ID",
		Aliases: []string{"timetolive"},
		Short:   "Show the remaining TTL of a lease",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLeaseID(args[0])
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.TimeToLive(ctx, id, keys)
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					if res.Body.TTL() < 0 {
						_, err := fmt.Fprintf(out, "lease %s already expired\n", formatLeaseID(id))
						return err
					}
					if _, err := fmt.Fprintf(out, "lease %s granted with TTL(%ds), remaining(%ds)\n",
						formatLeaseID(id), res.Body.GrantedTTL(), res.Body.TTL()); err != nil {
						return err
					}
					if keys {
						return writeLines(out, res.Body.Keys())
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&keys, "keys", false, "list the keys attached to the lease")
	return cmd
}
