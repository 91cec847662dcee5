package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/etcdgw/internal/pathutil"
	"pkt.systems/etcdgw/internal/seal"
)

type diskSink struct {
	root string
}

func parseDiskURL(u *url.URL) (string, error) {
	p := strings.TrimSpace(u.Path)
	if host := strings.TrimSpace(u.Host); host != "" {
		p = "/" + host + "/" + strings.TrimPrefix(p, "/")
	}
	if p == "" || p == "/" {
		return "", fmt.Errorf("disk: path required (e.g. file:///var/backups/etcd)")
	}
	return filepath.Clean(p), nil
}

func newDiskSink(root string) (*diskSink, error) {
	resolved, err := pathutil.Resolve(root)
	if err != nil {
		return nil, fmt.Errorf("disk: %w", err)
	}
	if err := os.MkdirAll(resolved, 0o700); err != nil {
		return nil, fmt.Errorf("disk: create %s: %w", resolved, err)
	}
	return &diskSink{root: resolved}, nil
}

func (d *diskSink) Put(_ context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := seal.WriteAtomic(filepath.Join(d.root, name), data, 0o600); err != nil {
		return fmt.Errorf("disk: %w", err)
	}
	return nil
}

func (d *diskSink) Get(_ context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(d.root, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("disk: open %s: %w", name, err)
	}
	return f, nil
}

func (d *diskSink) List(context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("disk: list %s: %w", d.root, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (d *diskSink) Delete(_ context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(d.root, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("disk: remove %s: %w", name, err)
	}
	return nil
}

func (d *diskSink) Close() error { return nil }
