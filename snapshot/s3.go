package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// s3Config targets an S3-compatible service (MinIO, Ceph, ...).
type s3Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	Creds          *credentials.Credentials
}

type s3Sink struct {
	client *minio.Client
	cfg    s3Config
}

func parseS3URL(u *url.URL) (s3Config, error) {
	endpoint := strings.TrimSpace(u.Host)
	if endpoint == "" {
		return s3Config{}, fmt.Errorf("s3: missing host (expected s3://host[:port]/bucket[/prefix])")
	}
	bucket, prefix := splitBucketPath(u.Path)
	if bucket == "" {
		return s3Config{}, fmt.Errorf("s3: missing bucket (expected s3://host[:port]/bucket[/prefix])")
	}
	query := u.Query()
	cfg := s3Config{
		Endpoint: endpoint,
		Region:   strings.TrimSpace(query.Get("region")),
		Bucket:   bucket,
		Prefix:   prefix,
	}
	if v := query.Get("insecure"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			cfg.Insecure = ok
		}
	}
	if strings.EqualFold(query.Get("scheme"), "http") {
		cfg.Insecure = true
	}
	if v := query.Get("path-style"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			cfg.ForcePathStyle = ok
		}
	}
	creds, err := resolveS3Credentials()
	if err != nil {
		return s3Config{}, err
	}
	cfg.Creds = creds
	return cfg, nil
}

// resolveS3Credentials prefers ETCDGW_S3_* variables and falls back to the
// usual AWS/MinIO environment, shared credentials file and IAM chain.
func resolveS3Credentials() (*credentials.Credentials, error) {
	access := strings.TrimSpace(firstEnv("ETCDGW_S3_ACCESS_KEY_ID"))
	secret := firstEnv("ETCDGW_S3_SECRET_ACCESS_KEY")
	token := firstEnv("ETCDGW_S3_SESSION_TOKEN")
	if access == "" && secret == "" {
		return credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		}), nil
	}
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3: credentials incomplete (need ETCDGW_S3_ACCESS_KEY_ID and ETCDGW_S3_SECRET_ACCESS_KEY)")
	}
	return credentials.NewStaticV4(access, secret, token), nil
}

func newS3Sink(ctx context.Context, cfg s3Config) (*s3Sink, error) {
	options := &minio.Options{
		Creds:     cfg.Creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: defaultTransport(),
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	cli, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := cli.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("s3: connectivity check failed: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("s3: bucket %s does not exist", cfg.Bucket)
	}
	return &s3Sink{client: cli, cfg: cfg}, nil
}

func (s *s3Sink) Put(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, objectKey(s.cfg.Prefix, name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", name, err)
	}
	return nil
}

func (s *s3Sink) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, objectKey(s.cfg.Prefix, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3: get %s: %w", name, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3: stat %s: %w", name, err)
	}
	return obj, nil
}

func (s *s3Sink) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if s.cfg.Prefix != "" {
		prefix = s.cfg.Prefix + "/"
	}
	var names []string
	for object := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			return nil, fmt.Errorf("s3: list: %w", object.Err)
		}
		rel := strings.TrimPrefix(object.Key, prefix)
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}
		names = append(names, rel)
	}
	return names, nil
}

func (s *s3Sink) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	object := objectKey(s.cfg.Prefix, name)
	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, object, minio.StatObjectOptions{}); err != nil {
		if isS3NotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("s3: stat %s: %w", name, err)
	}
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3: remove %s: %w", name, err)
	}
	return nil
}

func (s *s3Sink) Close() error { return nil }

func isS3NotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return minio.ToErrorResponse(err).StatusCode == http.StatusNotFound
}

func defaultTransport() *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{}
	}
	clone := base.Clone()
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 16
	}
	if clone.TLSHandshakeTimeout == 0 {
		clone.TLSHandshakeTimeout = 10 * time.Second
	}
	return clone
}
