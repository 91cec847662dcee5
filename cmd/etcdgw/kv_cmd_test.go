package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"pkt.systems/etcdgw/client"
)

func TestKVPutGetText(t *testing.T) {
	h := newHarness(t)
	if out := h.mustRun("kv", "put", "greeting", "hello"); out != "OK\n" {
		t.Fatalf("put output %q", out)
	}
	if out := h.mustRun("kv", "get", "greeting"); out != "greeting\nhello\n" {
		t.Fatalf("get output %q", out)
	}
	if out := h.mustRun("kv", "get", "missing"); out != "" {
		t.Fatalf("expected no output for missing key, got %q", out)
	}
}

func TestKVPutPrevKV(t *testing.T) {
	h := newHarness(t)
	h.mustRun("kv", "put", "k", "one")
	if out := h.mustRun("kv", "put", "k", "two", "--prev-kv"); out != "one\nOK\n" {
		t.Fatalf("put --prev-kv output %q", out)
	}
}

func TestKVPutFromFileAndStdin(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "value.txt")
	if err := os.WriteFile(path, []byte("from-file"), 0o600); err != nil {
		t.Fatalf("write value: %v", err)
	}
	h.mustRun("kv", "put", "f", "--file", path)
	if _, err := h.runInput("from-stdin", "kv", "put", "s", "--file", "-"); err != nil {
		t.Fatalf("put from stdin: %v", err)
	}
	out := h.mustRun("kv", "get", "f")
	if out != "f\nfrom-file\n" {
		t.Fatalf("file value %q", out)
	}
	out = h.mustRun("kv", "get", "s")
	if out != "s\nfrom-stdin\n" {
		t.Fatalf("stdin value %q", out)
	}
	if _, err := h.run("kv", "put", "x", "v", "--file", path); err == nil {
		t.Fatal("expected VALUE and --file to conflict")
	}
	if _, err := h.run("kv", "put", "x"); err == nil {
		t.Fatal("expected missing value error")
	}
}

func TestKVPutCompactJSON(t *testing.T) {
	h := newHarness(t)
	h.mustRun("kv", "put", "doc", "{ \"a\" : 1,\n  \"b\": [ true ] }", "--compact-json")
	if out := h.mustRun("kv", "get", "doc"); out != "doc\n{\"a\":1,\"b\":[true]}\n" {
		t.Fatalf("compacted value %q", out)
	}
	if _, err := h.run("kv", "put", "doc", "{not-json}", "--compact-json"); err == nil {
		t.Fatal("expected invalid JSON to be rejected")
	}
}

func TestKVGetPrefixKeysOnlyAndCount(t *testing.T) {
	h := newHarness(t)
	for _, key := range []string{"/app/a", "/app/b", "/other"} {
		h.mustRun("kv", "put", key, "v")
	}
	if out := h.mustRun("kv", "get", "/app/", "--prefix", "--keys-only"); out != "/app/a\n/app/b\n" {
		t.Fatalf("prefix keys %q", out)
	}
	if out := h.mustRun("kv", "get", "--all", "--count-only"); out != "3\n" {
		t.Fatalf("count %q", out)
	}
	if out := h.mustRun("kv", "get", "/app/a", "--range-end", "/app/c", "--keys-only", "--sort-order", "descend"); out != "/app/b\n/app/a\n" {
		t.Fatalf("descending range %q", out)
	}
	if out := h.mustRun("kv", "get", "--all", "--keys-only", "--limit", "1"); out != "/app/a\n" {
		t.Fatalf("limited keys %q", out)
	}
}

func TestKVGetFlagValidation(t *testing.T) {
	h := newHarness(t)
	cases := [][]string{
		{"kv", "get"},
		{"kv", "get", "k", "--all"},
		{"kv", "get", "k", "--prefix", "--range-end", "z"},
		{"kv", "get", "k", "--sort-order", "sideways"},
		{"kv", "get", "k", "--sort-target", "color"},
	}
	for _, args := range cases {
		if _, err := h.run(args...); err == nil {
			t.Fatalf("expected %v to fail", args)
		}
	}
	if reqs := h.gw.Requests(); len(reqs) != 0 {
		t.Fatalf("invalid invocations reached the gateway: %#v", reqs)
	}
}

func TestKVGetJSONPretty(t *testing.T) {
	h := newHarness(t)
	h.mustRun("kv", "put", "/app/a", "1")
	h.mustRun("kv", "put", "/app/b", "2")
	out := h.mustRun("-o", "json", "--pretty", "kv", "get", "/app/", "--prefix")
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got) != 2 || got["/app/a"] != "1" || got["/app/b"] != "2" {
		t.Fatalf("unexpected pretty json %#v", got)
	}
}

func TestKVGetJSONRawKeepsHeader(t *testing.T) {
	h := newHarness(t)
	h.mustRun("kv", "put", "k", "v")
	out := h.mustRun("-o", "json", "kv", "get", "k")
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if _, ok := got["header"]; !ok {
		t.Fatalf("expected raw body with header, got %#v", got)
	}
	kvs, ok := got["kvs"].([]any)
	if !ok || len(kvs) != 1 {
		t.Fatalf("unexpected kvs %#v", got["kvs"])
	}
	if kv := kvs[0].(map[string]any); kv["key"] != "k" || kv["value"] != "v" {
		t.Fatalf("expected decoded key/value, got %#v", kv)
	}
}

func TestKVDelPrefixPrevKV(t *testing.T) {
	h := newHarness(t)
	h.mustRun("kv", "put", "/app/a", "1")
	h.mustRun("kv", "put", "/app/b", "2")
	h.mustRun("kv", "put", "/keep", "3")
	out := h.mustRun("kv", "del", "/app/", "--prefix", "--prev-kv")
	if out != "2\n/app/a\n1\n/app/b\n2\n" {
		t.Fatalf("del output %q", out)
	}
	if out := h.mustRun("kv", "get", "--all", "--keys-only"); out != "/keep\n" {
		t.Fatalf("remaining keys %q", out)
	}
	if out := h.mustRun("kv", "del", "/keep"); out != "1\n" {
		t.Fatalf("single delete %q", out)
	}
	if _, err := h.run("kv", "del", " ", "--prefix"); err == nil {
		t.Fatal("expected empty prefix to be rejected")
	}
}

func TestKVCompact(t *testing.T) {
	h := newHarness(t)
	h.mustRun("kv", "put", "k", "1")
	h.mustRun("kv", "put", "k", "2")
	rev := strconv.FormatInt(h.gw.Revision(), 10)
	out := h.mustRun("kv", "compact", rev, "--physical")
	if out != "compacted revision "+rev+"\n" {
		t.Fatalf("compact output %q", out)
	}
	req, _ := h.gw.LastRequest()
	if req.Path != client.PathCompaction || req.Body["physical"] != true {
		t.Fatalf("unexpected compaction request %#v", req)
	}
	if _, err := h.run("kv", "compact", "zero"); err == nil || !strings.Contains(err.Error(), "invalid revision") {
		t.Fatalf("expected invalid revision error, got %v", err)
	}
}

func TestParseSort(t *testing.T) {
	cases := []struct {
		order, target string
		wantOrder     client.SortOrder
		wantTarget    client.SortTarget
	}{
		{"", "", client.SortAscend, client.SortByKey},
		{"desc", "mod", client.SortDescend, client.SortByMod},
		{"none", "value", client.SortNone, client.SortByValue},
		{"ASCEND", "create", client.SortAscend, client.SortByCreate},
		{"ascend", "version", client.SortAscend, client.SortByVersion},
	}
	for _, tc := range cases {
		order, target, err := parseSort(tc.order, tc.target)
		if err != nil {
			t.Fatalf("parseSort(%q, %q): %v", tc.order, tc.target, err)
		}
		if order != tc.wantOrder || target != tc.wantTarget {
			t.Fatalf("parseSort(%q, %q)=%v,%v", tc.order, tc.target, order, target)
		}
	}
}
