package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/snapshot"
)

func newSnapshotCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export keys to, and restore them from, disk, S3, AWS or Azure",
		Long: `Snapshots are JSON documents holding every key below a prefix. They are
stored under time-ordered names in a location:

  /var/backups/etcd  or  file:///var/backups/etcd
  s3://host[:port]/bucket[/prefix]?insecure=1&path-style=1
  aws://bucket[/prefix]?region=eu-north-1
  azure://account/container[/prefix]

With --encrypt-key the document is sealed with the key material in that PEM
file (created by snapshot save when missing).`,
	}
	cmd.AddCommand(
		newSnapshotSaveCommand(cfg),
		newSnapshotRestoreCommand(cfg),
		newSnapshotInspectCommand(cfg),
		newSnapshotListCommand(cfg),
		newSnapshotDeleteCommand(cfg),
	)
	return cmd
}

func (c *cliConfig) snapshotOptions() snapshot.Options {
	return snapshot.Options{
		Logger: c.cliLogger("cli.snapshot"),
		Clock:  c.clock,
	}
}

// withSink opens location and closes it after fn.
func withSink(ctx context.Context, location string, fn func(snapshot.Sink) error) error {
	sink, err := snapshot.OpenSink(ctx, location)
	if err != nil {
		return err
	}
	defer sink.Close()
	return fn(sink)
}

func newSnapshotSaveCommand(cfg *cliConfig) *cobra.Command {
	var prefix string
	var keyFile string
	var pageSize int64
	cmd := &cobra.Command{
		Use:   "save LOCATION",
		Short: "Export keys into a new snapshot",
		Example: `  etcdgw snapshot save /var/backups/etcd --prefix /app/
  etcdgw snapshot save aws://backups/etcd?region=eu-north-1 --encrypt-key ~/.etcdgw/snapshot.pem`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				keys, err := snapshot.LoadKeys(keyFile, true)
				if err != nil {
					return err
				}
				cli.SetPretty(false)
				opts := cfg.snapshotOptions()
				opts.PageSize = pageSize
				snap, err := snapshot.Export(ctx, cli, prefix, opts)
				if err != nil {
					return err
				}
				return withSink(ctx, args[0], func(sink snapshot.Sink) error {
					name, err := snapshot.Save(ctx, sink, snap, keys)
					if err != nil {
						return err
					}
					summary := snapshotSummary(name, snap, keys != nil)
					return cfg.emit(cmd.OutOrStdout(), summary, func(out io.Writer) error {
						_, err := fmt.Fprintf(out, "saved %s: %d keys (%s) at revision %d\n",
							name, len(snap.Entries), humanizeBytes(snap.Size()), snap.Revision)
						return err
					})
				})
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "export only keys starting with this prefix (default everything)")
	cmd.Flags().StringVar(&keyFile, "encrypt-key", "", "seal the snapshot with the keys in this PEM file")
	cmd.Flags().Int64Var(&pageSize, "page-size", snapshot.DefaultPageSize, "keys fetched per range request")
	return cmd
}

func newSnapshotRestoreCommand(cfg *cliConfig) *cobra.Command {
	var name string
	var keyFile string
	var deleteExisting bool
	var keepLeases bool
	cmd := &cobra.Command{
		Use:   "restore LOCATION",
		Short: "Write the keys of a snapshot back to the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *client.Client) error {
				keys, err := snapshot.LoadKeys(keyFile, false)
				if err != nil {
					return err
				}
				return withSink(ctx, args[0], func(sink snapshot.Sink) error {
					snap, loaded, err := snapshot.Load(ctx, sink, name, keys)
					if err != nil {
						return err
					}
					opts := cfg.snapshotOptions()
					opts.DeleteExisting = deleteExisting
					opts.KeepLeases = keepLeases
					written, err := snapshot.Restore(ctx, cli, snap, opts)
					if err != nil {
						return err
					}
					summary := map[string]any{
						"name":            loaded,
						"restored":        written,
						"prefix":          snap.Prefix,
						"source_revision": snap.Revision,
					}
					return cfg.emit(cmd.OutOrStdout(), summary, func(out io.Writer) error {
						_, err := fmt.Fprintf(out, "restored %d keys from %s\n", written, loaded)
						return err
					})
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "snapshot to restore (default latest)")
	cmd.Flags().StringVar(&keyFile, "encrypt-key", "", "key file used to seal the snapshot")
	cmd.Flags().BoolVar(&deleteExisting, "delete-existing", false, "delete keys under the snapshot prefix first")
	cmd.Flags().BoolVar(&keepLeases, "keep-leases", false, "reattach keys to their original lease IDs")
	return cmd
}

type snapshotInfo struct {
	Name      string    `json:"name" yaml:"name"`
	Server    string    `json:"server" yaml:"server"`
	Prefix    string    `json:"prefix" yaml:"prefix"`
	Revision  int64     `json:"revision" yaml:"revision"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Keys      int       `json:"keys" yaml:"keys"`
	Bytes     int64     `json:"bytes" yaml:"bytes"`
	Sealed    bool      `json:"sealed" yaml:"sealed"`
}

func snapshotSummary(name string, snap *snapshot.Snapshot, sealed bool) snapshotInfo {
	return snapshotInfo{
		Name:      name,
		Server:    snap.Server,
		Prefix:    snap.Prefix,
		Revision:  snap.Revision,
		CreatedAt: snap.CreatedAt,
		Keys:      len(snap.Entries),
		Bytes:     snap.Size(),
		Sealed:    sealed,
	}
}

func newSnapshotInspectCommand(cfg *cliConfig) *cobra.Command {
	var name string
	var keyFile string
	cmd := &cobra.Command{
		Use:   "inspect LOCATION",
		Short: "Describe a snapshot without restoring it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := cfg.load(); err != nil {
				return err
			}
			ctx := cmd.Context()
			defer cfg.cleanup(ctx)
			keys, err := snapshot.LoadKeys(keyFile, false)
			if err != nil {
				return err
			}
			return withSink(ctx, args[0], func(sink snapshot.Sink) error {
				snap, loaded, err := snapshot.Load(ctx, sink, name, keys)
				if err != nil {
					return err
				}
				info := snapshotSummary(loaded, snap, keys != nil)
				return cfg.emit(cmd.OutOrStdout(), info, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "name:     %s\nserver:   %s\nprefix:   %q\nrevision: %d\ncreated:  %s\nkeys:     %d\nsize:     %s\n",
						info.Name, info.Server, info.Prefix, info.Revision,
						info.CreatedAt.Format(time.RFC3339), info.Keys, humanizeBytes(info.Bytes))
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "snapshot to inspect (default latest)")
	cmd.Flags().StringVar(&keyFile, "encrypt-key", "", "key file used to seal the snapshot")
	return cmd
}

func newSnapshotListCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:     "list LOCATION",
		Aliases: []string{"ls"},
		Short:   "List snapshots, oldest first",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := cfg.load(); err != nil {
				return err
			}
			ctx := cmd.Context()
			defer cfg.cleanup(ctx)
			return withSink(ctx, args[0], func(sink snapshot.Sink) error {
				names, err := snapshot.List(ctx, sink)
				if err != nil {
					return err
				}
				if names == nil {
					names = []string{}
				}
				return cfg.emit(cmd.OutOrStdout(), names, func(out io.Writer) error {
					return writeLines(out, names)
				})
			})
		},
	}
}

func newSnapshotDeleteCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:     "delete LOCATION NAME",
		Aliases: []string{"rm"},
		Short:   "Delete a snapshot",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := cfg.load(); err != nil {
				return err
			}
			ctx := cmd.Context()
			defer cfg.cleanup(ctx)
			return withSink(ctx, args[0], func(sink snapshot.Sink) error {
				if err := sink.Delete(ctx, args[1]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[1])
				return err
			})
		},
	}
}
