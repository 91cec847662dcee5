package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/internal/fakegw"
	"pkt.systems/pslog"
)

type cliHarness struct {
	t   *testing.T
	gw  *fakegw.Server
	url string
	dir string
}

var isolatedEnv = []string{
	"ETCDGW_CONFIG",
	"ETCDGW_SERVER",
	"ETCDGW_API_VERSION",
	"ETCDGW_TOKEN",
	"ETCDGW_SESSION",
	"ETCDGW_OUTPUT",
	"ETCDGW_PRETTY",
	"ETCDGW_PASSWORD",
	"ETCDGW_BUNDLE",
	"ETCDGW_LOG_LEVEL",
	"ETCDGW_CLIENT_LOG_LEVEL",
	"ETCDGW_OTLP_ENDPOINT",
	"ETCDGW_METRICS_LISTEN",
	"ETCDGW_CORRELATION_ID",
}

func newHarness(t *testing.T, opts ...fakegw.Option) *cliHarness {
	t.Helper()
	for _, name := range isolatedEnv {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	t.Setenv("ETCDGW_CONFIG_DIR", dir)
	gw, url := fakegw.Start(t, opts...)
	return &cliHarness{t: t, gw: gw, url: url, dir: dir}
}

func executeRootCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	cmd := newRootCommand(pslog.NewStructured(io.Discard))
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (h *cliHarness) runInput(stdin string, args ...string) (string, error) {
	h.t.Helper()
	full := append([]string{"--server=" + h.url, "--api-version=" + h.gw.Version()}, args...)
	stdout, _, err := executeRootCommand(h.t, stdin, full...)
	return stdout, err
}

func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()
	return h.runInput("", args...)
}

func (h *cliHarness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("etcdgw %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestRootHasGlobalShorthands(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	root := newRootCommand(pslog.NewStructured(io.Discard))
	cases := map[string]string{
		"v": "verbose",
		"s": "server",
		"b": "bundle",
		"c": "config",
		"o": "output",
	}
	for short, long := range cases {
		if flag := root.PersistentFlags().ShorthandLookup(short); flag == nil || flag.Name != long {
			t.Fatalf("expected -%s shorthand for --%s, got %#v", short, long, flag)
		}
	}
}

func TestRootWithoutArgsPrintsHelp(t *testing.T) {
	newHarness(t)
	stdout, _, err := executeRootCommand(t, "")
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if !strings.Contains(stdout, "kv") || !strings.Contains(stdout, "snapshot") {
		t.Fatalf("expected help listing subcommands, got %q", stdout)
	}
}

func TestConfigFileSuppliesServer(t *testing.T) {
	h := newHarness(t)
	cfgPath := filepath.Join(h.dir, "config.yaml")
	data := "server: " + h.url + "\napi-version: " + h.gw.Version() + "\noutput: json\n"
	if err := os.WriteFile(cfgPath, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := executeRootCommand(t, "", "kv", "put", "from-config", "yes"); err != nil {
		t.Fatalf("put via default config file: %v", err)
	}
	req, ok := h.gw.LastRequest()
	if !ok || req.Path != client.PathPut {
		t.Fatalf("expected put to reach the gateway, got %#v", req)
	}
}

func TestExplicitConfigFileMissing(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("--config", filepath.Join(h.dir, "missing.yaml"), "kv", "get", "k")
	if err == nil || !strings.Contains(err.Error(), "missing.yaml") {
		t.Fatalf("expected missing config error, got %v", err)
	}
}

func TestEnvironmentSuppliesOutput(t *testing.T) {
	h := newHarness(t)
	h.mustRun("kv", "put", "k", "v")
	t.Setenv("ETCDGW_OUTPUT", "yaml")
	t.Setenv("ETCDGW_PRETTY", "true")
	out := h.mustRun("kv", "get", "k")
	if out != "k: v\n" {
		t.Fatalf("expected yaml pretty output, got %q", out)
	}
}

func TestInvalidOutputMode(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("-o", "xml", "kv", "get", "k")
	if err == nil || !strings.Contains(err.Error(), "invalid output format") {
		t.Fatalf("expected output format error, got %v", err)
	}
}

func TestInvalidServerRejected(t *testing.T) {
	newHarness(t)
	_, _, err := executeRootCommand(t, "", "--server=https://", "kv", "get", "k")
	if err == nil || !strings.Contains(err.Error(), "no host") {
		t.Fatalf("expected missing host error, got %v", err)
	}
}

func TestCorrelationIDFromEnvironment(t *testing.T) {
	h := newHarness(t)
	t.Setenv("ETCDGW_CORRELATION_ID", "cli-run-42")
	h.mustRun("kv", "put", "k", "v")
	req, _ := h.gw.LastRequest()
	if req.CorrelationID != "cli-run-42" {
		t.Fatalf("expected correlation id, got %q", req.CorrelationID)
	}
}

func TestClientLogOutputFile(t *testing.T) {
	h := newHarness(t)
	logPath := filepath.Join(h.dir, "client.log")
	h.mustRun("--log-level", "trace", "--log-output", logPath, "kv", "put", "k", "v")
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read client log: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected client log output")
	}
}

func TestInvalidClientLogLevel(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("--log-level", "loud", "kv", "get", "k")
	if err == nil || !strings.Contains(err.Error(), "invalid client log level") {
		t.Fatalf("expected log level error, got %v", err)
	}
}

func TestDescribeErrorHintsLogin(t *testing.T) {
	authErr := &client.APIError{Status: 401, Path: client.PathRange, Response: client.ErrorResponse{Code: 16, Message: "etcdserver: invalid auth token"}}
	if got := describeError(authErr); !strings.Contains(got, "auth login") {
		t.Fatalf("expected login hint, got %q", got)
	}
	plain := errors.New("boom")
	if got := describeError(plain); got != "boom" {
		t.Fatalf("describeError(plain)=%q", got)
	}
}

func TestHumanizeBytes(t *testing.T) {
	cases := map[int64]string{
		0:       "0B",
		-1:      "0B",
		1536:    "1.5kB",
		3000000: "3.0MB",
	}
	for in, want := range cases {
		if got := humanizeBytes(in); got != want {
			t.Fatalf("humanizeBytes(%d)=%q want %q", in, got, want)
		}
	}
}
