// Package snapshot exports a key range from an etcd gateway and restores it
// later, using nothing but range and put calls. Snapshots are JSON documents,
// optionally sealed with a kryptograf key file, stored through a Sink on local
// disk, an S3-compatible service, AWS S3 or Azure Blob Storage.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/xid"

	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/internal/clock"
	"pkt.systems/etcdgw/internal/seal"
	"pkt.systems/etcdgw/internal/svcfields"
	"pkt.systems/pslog"
)

const (
	// FormatVersion is written into every snapshot.
	FormatVersion = 1
	// Extension is appended to generated object names.
	Extension = ".snapshot"
	// DefaultPageSize bounds the number of keys fetched per range call.
	DefaultPageSize = 500

	keyDescriptorName    = "etcdgw-snapshot"
	keyDescriptorContext = "etcdgw/snapshot"
)

var (
	// ErrNotFound reports a missing snapshot object.
	ErrNotFound = errors.New("snapshot: not found")
	// ErrEncrypted reports a sealed snapshot opened without keys.
	ErrEncrypted = errors.New("snapshot: payload is encrypted, key file required")
)

// Snapshot is a point-in-time copy of a key range.
type Snapshot struct {
	Version   int       `json:"version"`
	Server    string    `json:"server"`
	Prefix    string    `json:"prefix"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`
}

// Entry is one exported key. Key and Value are raw bytes (base64 in JSON).
type Entry struct {
	Key            []byte `json:"key"`
	Value          []byte `json:"value,omitempty"`
	Lease          int64  `json:"lease,omitempty"`
	CreateRevision int64  `json:"create_revision,omitempty"`
	ModRevision    int64  `json:"mod_revision,omitempty"`
}

// Size returns the total number of key and value bytes.
func (s *Snapshot) Size() int64 {
	var n int64
	for _, e := range s.Entries {
		n += int64(len(e.Key) + len(e.Value))
	}
	return n
}

// Options tune Export and Restore.
type Options struct {
	// PageSize caps keys per range request (DefaultPageSize when zero).
	PageSize int64
	Logger   pslog.Base
	Clock    clock.Clock
	// DeleteExisting clears the snapshot prefix before Restore writes.
	DeleteExisting bool
	// KeepLeases re-attaches exported lease ids on Restore. The leases must
	// exist on the target cluster.
	KeepLeases bool
}

func (o Options) logger() pslog.Base {
	return svcfields.WithBase(o.Logger, "snapshot")
}

// Export reads every key under prefix (the whole keyspace when prefix is
// empty) in pages pinned to the revision of the first page. Pretty clients
// drop the response header, in which case pages are not pinned and Revision
// stays zero.
func Export(ctx context.Context, cli *client.Client, prefix string, opts Options) (*Snapshot, error) {
	if cli == nil {
		return nil, fmt.Errorf("snapshot: client required")
	}
	logger := opts.logger()
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	start, end := "\x00", "\x00"
	if prefix != "" {
		start, end = prefix, client.PrefixRangeEnd(prefix)
	}
	snap := &Snapshot{
		Version:   FormatVersion,
		Server:    cli.Server(),
		Prefix:    prefix,
		CreatedAt: clock.Or(opts.Clock).Now().UTC(),
	}
	key := start
	for {
		getOpts := []client.GetOption{
			client.WithRangeEnd(end),
			client.WithLimit(pageSize),
			client.WithSort(client.SortByKey, client.SortAscend),
		}
		if snap.Revision > 0 {
			getOpts = append(getOpts, client.WithRevision(snap.Revision))
		}
		res, err := cli.Get(ctx, key, getOpts...)
		if err != nil {
			return nil, fmt.Errorf("snapshot: export range at %q: %w", key, err)
		}
		if snap.Revision == 0 {
			if hdr, ok := res.Body.Header(); ok {
				snap.Revision = hdr.Revision
			}
		}
		kvs := res.Body.KVs()
		for _, kv := range kvs {
			snap.Entries = append(snap.Entries, Entry{
				Key:            []byte(kv.Key),
				Value:          []byte(kv.Value),
				Lease:          kv.Lease,
				CreateRevision: kv.CreateRevision,
				ModRevision:    kv.ModRevision,
			})
		}
		logger.Debug("snapshot.export.page", "key", key, "entries", len(kvs), "revision", snap.Revision)
		if !res.Body.More() || len(kvs) == 0 {
			break
		}
		key = kvs[len(kvs)-1].Key + "\x00"
	}
	logger.Info("snapshot.export.complete", "prefix", prefix, "entries", len(snap.Entries), "revision", snap.Revision)
	return snap, nil
}

// Restore writes every entry of snap through cli and returns the number of
// keys written.
func Restore(ctx context.Context, cli *client.Client, snap *Snapshot, opts Options) (int, error) {
	if cli == nil || snap == nil {
		return 0, fmt.Errorf("snapshot: client and snapshot required")
	}
	if snap.Version != FormatVersion {
		return 0, fmt.Errorf("snapshot: unsupported format version %d", snap.Version)
	}
	logger := opts.logger()
	if opts.DeleteExisting {
		start, end := "\x00", "\x00"
		if snap.Prefix != "" {
			start, end = snap.Prefix, client.PrefixRangeEnd(snap.Prefix)
		}
		res, err := cli.Del(ctx, start, client.WithDeleteRangeEnd(end))
		if err != nil {
			return 0, fmt.Errorf("snapshot: clear prefix %q: %w", snap.Prefix, err)
		}
		logger.Info("snapshot.restore.cleared", "prefix", snap.Prefix, "deleted", res.Body.Deleted())
	}
	written := 0
	for _, e := range snap.Entries {
		var putOpts []client.PutOption
		if opts.KeepLeases && e.Lease != 0 {
			putOpts = append(putOpts, client.WithLease(e.Lease))
		}
		if _, err := cli.Put(ctx, string(e.Key), string(e.Value), putOpts...); err != nil {
			return written, fmt.Errorf("snapshot: restore %q: %w", e.Key, err)
		}
		written++
	}
	logger.Info("snapshot.restore.complete", "prefix", snap.Prefix, "entries", written, "source_revision", snap.Revision)
	return written, nil
}

// Encode serializes snap, sealing it when keys is non-nil.
func Encode(snap *Snapshot, keys *seal.Keys) ([]byte, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	if keys == nil {
		return payload, nil
	}
	sealed, err := keys.Seal(payload)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return sealed, nil
}

// Decode parses data produced by Encode.
func Decode(data []byte, keys *seal.Keys) (*Snapshot, error) {
	plain := bytes.HasPrefix(bytes.TrimSpace(data), []byte("{"))
	if !plain {
		if keys == nil {
			return nil, ErrEncrypted
		}
		opened, err := keys.Open(data)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		data = opened
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if snap.Version != FormatVersion {
		return nil, fmt.Errorf("snapshot: unsupported format version %d", snap.Version)
	}
	return &snap, nil
}

// NewName returns a time-ordered object name.
func NewName() string {
	return xid.New().String() + Extension
}

// Save encodes snap and stores it in sink under a new name.
func Save(ctx context.Context, sink Sink, snap *Snapshot, keys *seal.Keys) (string, error) {
	data, err := Encode(snap, keys)
	if err != nil {
		return "", err
	}
	name := NewName()
	if err := sink.Put(ctx, name, data); err != nil {
		return "", err
	}
	return name, nil
}

// Load fetches and decodes the named snapshot; an empty name selects Latest.
func Load(ctx context.Context, sink Sink, name string, keys *seal.Keys) (*Snapshot, string, error) {
	if strings.TrimSpace(name) == "" {
		latest, err := Latest(ctx, sink)
		if err != nil {
			return nil, "", err
		}
		name = latest
	}
	rc, err := sink.Get(ctx, name)
	if err != nil {
		return nil, name, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, name, fmt.Errorf("snapshot: read %s: %w", name, err)
	}
	snap, err := Decode(data, keys)
	return snap, name, err
}

// List returns the snapshot names in sink, oldest first.
func List(ctx context.Context, sink Sink) ([]string, error) {
	names, err := sink.List(ctx)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, name := range names {
		if strings.HasSuffix(name, Extension) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Latest returns the newest snapshot name in sink.
func Latest(ctx context.Context, sink Sink) (string, error) {
	names, err := List(ctx, sink)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNotFound
	}
	return names[len(names)-1], nil
}

// LoadKeys reads the snapshot key file at path. With create set a missing
// file (or missing descriptor) is generated.
func LoadKeys(path string, create bool) (*seal.Keys, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	if create {
		return seal.EnsureFile(path, keyDescriptorName, keyDescriptorContext)
	}
	return seal.LoadFile(path, keyDescriptorName, keyDescriptorContext)
}
