package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
)

// Sink stores snapshot objects by name.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
	// Get returns ErrNotFound when name does not exist.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// OpenSink builds a Sink from a location URL:
//
//	file:///var/backups/etcd     (or a bare path)
//	s3://host[:port]/bucket[/prefix]?insecure=1&path-style=1
//	aws://bucket[/prefix]?region=eu-north-1[&endpoint=...]
//	azure://account/container[/prefix][?endpoint=...&sas=...]
func OpenSink(ctx context.Context, location string) (Sink, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("snapshot: location required")
	}
	if !strings.Contains(location, "://") {
		return newDiskSink(location)
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("snapshot: parse location: %w", err)
	}
	switch u.Scheme {
	case "file", "disk":
		root, err := parseDiskURL(u)
		if err != nil {
			return nil, err
		}
		return newDiskSink(root)
	case "s3":
		cfg, err := parseS3URL(u)
		if err != nil {
			return nil, err
		}
		return newS3Sink(ctx, cfg)
	case "aws":
		cfg, err := parseAWSURL(u)
		if err != nil {
			return nil, err
		}
		return newAWSSink(ctx, cfg)
	case "azure":
		cfg, err := parseAzureURL(u)
		if err != nil {
			return nil, err
		}
		return newAzureSink(ctx, cfg)
	default:
		return nil, fmt.Errorf("snapshot: location scheme %q not supported", u.Scheme)
	}
}

func validName(name string) error {
	if name == "" || name != path.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("snapshot: invalid object name %q", name)
	}
	return nil
}

func objectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func splitBucketPath(raw string) (string, string) {
	p := strings.Trim(strings.TrimPrefix(raw, "/"), "/")
	parts := strings.SplitN(p, "/", 2)
	bucket := strings.TrimSpace(parts[0])
	prefix := ""
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return ""
}
