package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/internal/jsonutil"
)

func newKVCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Read and write keys",
	}
	cmd.AddCommand(
		newKVPutCommand(cfg),
		newKVGetCommand(cfg),
		newKVDelCommand(cfg),
		newKVCompactCommand(cfg),
	)
	return cmd
}

func newKVPutCommand(cfg *cliConfig) *cobra.Command {
	var file string
	var lease string
	var prevKV bool
	var compactJSON bool
	cmd := &cobra.Command{
		Use:   "put KEY [VALUE]",
		Short: "Store a value under a key",
		Example: `  etcdgw kv put /app/name demo
  etcdgw kv put /app/config --file config.json --compact-json
  echo -n hello | etcdgw kv put /app/greeting --file -
  etcdgw kv put /app/ephemeral up --lease 7587869389427537410`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := resolvePutValue(cmd, args, file)
			if err != nil {
				return err
			}
			if compactJSON {
				if value, err = jsonutil.CompactValue(value, jsonutil.DefaultMaxValueBytes); err != nil {
					return err
				}
			}
			var opts []client.PutOption
			if lease != "" {
				id, err := parseLeaseID(lease)
				if err != nil {
					return err
				}
				opts = append(opts, client.WithLease(id))
			}
			if prevKV {
				opts = append(opts, client.WithPutPrevKV())
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.Put(ctx, args[0], value, opts...)
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					if prev, ok := res.Body.PrevKV(); ok {
						if _, err := fmt.Fprintln(out, prev.Value); err != nil {
							return err
						}
					}
					_, err := fmt.Fprintln(out, "OK")
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the value from a file (- for stdin)")
	cmd.Flags().StringVar(&lease, "lease", "", "attach the key to a lease (decimal or 0x hex ID)")
	cmd.Flags().BoolVar(&prevKV, "prev-kv", false, "return the previous value")
	cmd.Flags().BoolVar(&compactJSON, "compact-json", false, "compact a JSON value before storing it")
	return cmd
}

func resolvePutValue(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case file != "" && len(args) == 2:
		return "", errors.New("specify either VALUE or --file, not both")
	case len(args) == 2:
		return args[1], nil
	case file == "":
		return "", errors.New("value required (VALUE argument or --file)")
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read value file: %w", err)
		}
		return string(data), nil
	}
}

func newKVGetCommand(cfg *cliConfig) *cobra.Command {
	var prefix bool
	var all bool
	var rangeEnd string
	var limit int64
	var revision int64
	var keysOnly bool
	var countOnly bool
	var sortOrder string
	var sortTarget string
	cmd := &cobra.Command{
		Use:   "get [KEY]",
		Short: "Read a key, a range or a prefix",
		Example: `  etcdgw kv get /app/name
  etcdgw kv get /app/ --prefix --keys-only
  etcdgw kv get --all --count-only
  etcdgw kv get a --range-end c --sort-order descend --sort-target mod`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("KEY required (or --all)")
			}
			if all && (len(args) > 0 || prefix || rangeEnd != "") {
				return errors.New("--all cannot be combined with KEY, --prefix or --range-end")
			}
			if prefix && rangeEnd != "" {
				return errors.New("--prefix and --range-end are mutually exclusive")
			}
			var opts []client.GetOption
			if limit > 0 {
				opts = append(opts, client.WithLimit(limit))
			}
			if revision > 0 {
				opts = append(opts, client.WithRevision(revision))
			}
			if keysOnly {
				opts = append(opts, client.WithKeysOnly())
			}
			if countOnly {
				opts = append(opts, client.WithCountOnly())
			}
			if sortOrder != "" || sortTarget != "" {
				order, target, err := parseSort(sortOrder, sortTarget)
				if err != nil {
					return err
				}
				opts = append(opts, client.WithSort(target, order))
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				var res *client.Result
				var err error
				switch {
				case all:
					if len(opts) == 0 {
						res, err = cli.GetAllKeys(ctx)
					} else {
						res, err = cli.Get(ctx, "\x00", append(opts, client.WithRangeEnd("\x00"))...)
					}
				case prefix:
					res, err = cli.GetKeysWithPrefix(ctx, args[0], opts...)
				case rangeEnd != "":
					res, err = cli.Get(ctx, args[0], append(opts, client.WithRangeEnd(rangeEnd))...)
				default:
					res, err = cli.Get(ctx, args[0], opts...)
				}
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					if countOnly {
						_, err := fmt.Fprintln(out, res.Body.Count())
						return err
					}
					return writeKVText(out, res.Body.KVs(), keysOnly)
				})
			})
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&prefix, "prefix", false, "read every key starting with KEY")
	flags.BoolVar(&all, "all", false, "read the whole keyspace")
	flags.StringVar(&rangeEnd, "range-end", "", "read the range [KEY, range-end)")
	flags.Int64Var(&limit, "limit", 0, "maximum number of keys to return")
	flags.Int64Var(&revision, "revision", 0, "read at this revision (0 = latest)")
	flags.BoolVar(&keysOnly, "keys-only", false, "return keys without values")
	flags.BoolVar(&countOnly, "count-only", false, "return only the number of keys")
	flags.StringVar(&sortOrder, "sort-order", "", "sort order (none|ascend|descend)")
	flags.StringVar(&sortTarget, "sort-target", "", "sort target (key|version|create|mod|value)")
	return cmd
}

func parseSort(order, target string) (client.SortOrder, client.SortTarget, error) {
	var o client.SortOrder
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", "ascend", "asc":
		o = client.SortAscend
	case "descend", "desc":
		o = client.SortDescend
	case "none":
		o = client.SortNone
	default:
		return 0, 0, fmt.Errorf("invalid sort order %q (none|ascend|descend)", order)
	}
	var t client.SortTarget
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "", "key":
		t = client.SortByKey
	case "version":
		t = client.SortByVersion
	case "create":
		t = client.SortByCreate
	case "mod":
		t = client.SortByMod
	case "value":
		t = client.SortByValue
	default:
		return 0, 0, fmt.Errorf("invalid sort target %q (key|version|create|mod|value)", target)
	}
	return o, t, nil
}

func newKVDelCommand(cfg *cliConfig) *cobra.Command {
	var prefix bool
	var rangeEnd string
	var prevKV bool
	cmd := &cobra.Command{
		Use:     "del KEY",
		Aliases: []string{"delete", "rm"},
		Short:   "Delete a key, a range or a prefix",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if prefix && rangeEnd != "" {
				return errors.New("--prefix and --range-end are mutually exclusive")
			}
			key := args[0]
			var opts []client.DeleteOption
			switch {
			case prefix:
				key = strings.Trim(key, " \t\n\r\x00\x0b")
				if key == "" {
					return errors.New("--prefix requires a non-empty KEY")
				}
				opts = append(opts, client.WithDeleteRangeEnd(client.PrefixRangeEnd(key)))
			case rangeEnd != "":
				opts = append(opts, client.WithDeleteRangeEnd(rangeEnd))
			}
			if prevKV {
				opts = append(opts, client.WithDeletePrevKV())
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.Del(ctx, key, opts...)
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					if _, err := fmt.Fprintln(out, res.Body.Deleted()); err != nil {
						return err
					}
					return writeKVText(out, res.Body.PrevKVs(), false)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&prefix, "prefix", false, "delete every key starting with KEY")
	cmd.Flags().StringVar(&rangeEnd, "range-end", "", "delete the range [KEY, range-end)")
	cmd.Flags().BoolVar(&prevKV, "prev-kv", false, "return the deleted entries")
	return cmd
}

func newKVCompactCommand(cfg *cliConfig) *cobra.Command {
	var physical bool
	cmd := &cobra.Command{
		Use:   "compact REVISION",
		Short: "Discard history older than a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || rev <= 0 {
				return fmt.Errorf("invalid revision %q", args[0])
			}
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				res, err := cli.Compaction(ctx, rev, physical)
				if err != nil {
					return err
				}
				return cfg.emitResult(cmd.OutOrStdout(), res, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "compacted revision %d\n", rev)
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVar(&physical, "physical", false, "wait until the compaction is applied to the backend")
	return cmd
}
