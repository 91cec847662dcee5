package snapshot

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

func setupFakeS3(t *testing.T) string {
	t.Helper()
	backend := s3mem.New()
	fs := gofakes3.New(backend)
	server := httptest.NewServer(fs.Server())
	t.Cleanup(server.Close)
	if err := backend.CreateBucket("etcdgw-test"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	t.Setenv("ETCDGW_S3_ACCESS_KEY_ID", "test")
	t.Setenv("ETCDGW_S3_SECRET_ACCESS_KEY", "test")
	return strings.TrimPrefix(server.URL, "http://")
}

func TestS3SinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	endpoint := setupFakeS3(t)
	sink, err := OpenSink(ctx, "s3://"+endpoint+"/etcdgw-test/nightly?insecure=1&path-style=1&region=us-east-1")
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer sink.Close()

	keys, err := LoadKeys(t.TempDir()+"/keys.pem", true)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	snap := &Snapshot{Version: FormatVersion, Prefix: "/svc/", Entries: []Entry{{Key: []byte("/svc/a"), Value: []byte("1")}}}
	name, err := Save(ctx, sink, snap, keys)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	names, err := List(ctx, sink)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 1 || names[0] != name {
		t.Fatalf("unexpected names %v", names)
	}
	out, gotName, err := Load(ctx, sink, "", keys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if gotName != name || len(out.Entries) != 1 || string(out.Entries[0].Value) != "1" {
		t.Fatalf("unexpected snapshot %s %+v", gotName, out)
	}
	rc, err := sink.Get(ctx, name)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	raw, _ := io.ReadAll(rc)
	rc.Close()
	if strings.Contains(string(raw), "/svc/a") {
		t.Fatalf("object stored unsealed")
	}
	if _, err := sink.Get(ctx, "nope"+Extension); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := sink.Delete(ctx, name); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := sink.Delete(ctx, name); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestS3SinkMissingBucket(t *testing.T) {
	endpoint := setupFakeS3(t)
	if _, err := OpenSink(context.Background(), "s3://"+endpoint+"/absent?insecure=1&path-style=1&region=us-east-1"); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u
}

func TestParseS3URL(t *testing.T) {
	t.Setenv("ETCDGW_S3_ACCESS_KEY_ID", "ak")
	t.Setenv("ETCDGW_S3_SECRET_ACCESS_KEY", "sk")
	cfg, err := parseS3URL(mustURL(t, "s3://minio:9000/backups/etcd/prod/?insecure=true&path-style=1"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Endpoint != "minio:9000" || cfg.Bucket != "backups" || cfg.Prefix != "etcd/prod" || !cfg.Insecure || !cfg.ForcePathStyle {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := parseS3URL(mustURL(t, "s3://minio:9000/")); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	t.Setenv("ETCDGW_S3_SECRET_ACCESS_KEY", "")
	if _, err := parseS3URL(mustURL(t, "s3://minio:9000/b")); err == nil {
		t.Fatalf("expected incomplete credentials error")
	}
}

func TestParseAWSURL(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")
	t.Setenv("ETCDGW_AWS_REGION", "")
	if _, err := parseAWSURL(mustURL(t, "aws://bucket/x")); err == nil {
		t.Fatalf("expected region error")
	}
	cfg, err := parseAWSURL(mustURL(t, "aws://bucket/etcd/?region=eu-north-1&endpoint=localhost:4566&insecure=1&path-style=true"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := awsConfig{Region: "eu-north-1", Bucket: "bucket", Prefix: "etcd", Endpoint: "localhost:4566", Insecure: true, PathStyle: true}
	if cfg != want {
		t.Fatalf("got %+v want %+v", cfg, want)
	}
	t.Setenv("AWS_REGION", "us-west-2")
	cfg, err = parseAWSURL(mustURL(t, "aws://bucket"))
	if err != nil || cfg.Region != "us-west-2" || cfg.Prefix != "" {
		t.Fatalf("env region: %+v %v", cfg, err)
	}
}

func TestParseAzureURL(t *testing.T) {
	t.Setenv("ETCDGW_AZURE_ACCOUNT_KEY", "")
	t.Setenv("AZURE_STORAGE_ACCOUNT_KEY", "")
	t.Setenv("AZURE_STORAGE_KEY", "")
	t.Setenv("ETCDGW_AZURE_SAS_TOKEN", "")
	t.Setenv("AZURE_STORAGE_SAS_TOKEN", "")
	if _, err := parseAzureURL(mustURL(t, "azure://acct/container")); err == nil {
		t.Fatalf("expected credential error")
	}
	cfg, err := parseAzureURL(mustURL(t, "azure://acct/snaps/etcd?sas=sv%3D1"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Account != "acct" || cfg.Container != "snaps" || cfg.Prefix != "etcd" || cfg.SASToken != "sv=1" ||
		cfg.Endpoint != "https://acct.blob.core.windows.net" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	t.Setenv("ETCDGW_AZURE_ACCOUNT_KEY", "a2V5")
	cfg, err = parseAzureURL(mustURL(t, "azure://acct/snaps?endpoint=http://127.0.0.1:10000/acct"))
	if err != nil || cfg.AccountKey != "a2V5" || cfg.Endpoint != "http://127.0.0.1:10000/acct" {
		t.Fatalf("key config: %+v %v", cfg, err)
	}
	if _, err := parseAzureURL(mustURL(t, "azure://acct/")); err == nil {
		t.Fatalf("expected missing container error")
	}
	got, err := appendSASToken("https://acct.blob.core.windows.net/?comp=list", "?sv=1&sig=x")
	if err != nil || got != "https://acct.blob.core.windows.net/?comp=list&sv=1&sig=x" {
		t.Fatalf("append sas: %s %v", got, err)
	}
}

func TestParseDiskURL(t *testing.T) {
	root, err := parseDiskURL(mustURL(t, "file:///var/backups/etcd/"))
	if err != nil || root != "/var/backups/etcd" {
		t.Fatalf("parse: %s %v", root, err)
	}
	if _, err := parseDiskURL(mustURL(t, "file:///")); err == nil {
		t.Fatalf("expected missing path error")
	}
}
