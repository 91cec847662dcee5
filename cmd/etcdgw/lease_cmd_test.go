package main

import (
	"strconv"
	"strings"
	"testing"

	"pkt.systems/etcdgw/client"
)

const firstLeaseHex = "694d7c2a1b3c0001"

func TestLeaseLifecycle(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("lease", "grant", "60")
	if out != "lease "+firstLeaseHex+" granted with TTL(60s)\n" {
		t.Fatalf("grant output %q", out)
	}
	h.mustRun("kv", "put", "ephemeral", "up", "--lease", "0x"+firstLeaseHex)

	out = h.mustRun("lease", "ttl", "0x"+firstLeaseHex, "--keys")
	if !strings.Contains(out, "granted with TTL(60s)") || !strings.HasSuffix(out, "\nephemeral\n") {
		t.Fatalf("ttl output %q", out)
	}

	out = h.mustRun("lease", "keepalive", "0x"+firstLeaseHex)
	if out != "lease "+firstLeaseHex+" keepalived with TTL(60)\n" {
		t.Fatalf("keepalive output %q", out)
	}

	out = h.mustRun("lease", "revoke", "0x"+firstLeaseHex)
	if out != "lease "+firstLeaseHex+" revoked\n" {
		t.Fatalf("revoke output %q", out)
	}
	if out := h.mustRun("kv", "get", "ephemeral"); out != "" {
		t.Fatalf("expected leased key to be gone, got %q", out)
	}
	out = h.mustRun("lease", "ttl", "0x"+firstLeaseHex)
	if !strings.Contains(out, "already expired") {
		t.Fatalf("ttl after revoke %q", out)
	}
}

func TestLeaseGrantWithDurationAndID(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("lease", "grant", "2m", "--id", "0x10")
	if out != "lease 10 granted with TTL(120s)\n" {
		t.Fatalf("grant output %q", out)
	}
	req, _ := h.gw.LastRequest()
	if req.Path != client.PathLeaseGrant {
		t.Fatalf("unexpected request %#v", req)
	}
}

func TestLeaseKeepAliveEveryCount(t *testing.T) {
	h := newHarness(t)
	h.mustRun("lease", "grant", "30")
	out := h.mustRun("lease", "keepalive", firstLeaseDecimal(t), "--every", "10ms", "--count", "3")
	if got := strings.Count(out, "keepalived"); got != 3 {
		t.Fatalf("expected 3 keepalives, got %d in %q", got, out)
	}
	calls := 0
	for _, req := range h.gw.Requests() {
		if req.Path == client.PathLeaseKeepAlive {
			calls++
		}
	}
	if calls != 3 {
		t.Fatalf("gateway saw %d keepalives", calls)
	}
}

func TestLeaseKeepAliveUnknownLease(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("lease", "keepalive", "0x99")
	if err == nil || !strings.Contains(err.Error(), "expired or not found") {
		t.Fatalf("expected expired lease error, got %v", err)
	}
}

func firstLeaseDecimal(t *testing.T) string {
	t.Helper()
	id, err := parseLeaseID("0x" + firstLeaseHex)
	if err != nil {
		t.Fatalf("parse lease id: %v", err)
	}
	return strconv.FormatInt(id, 10)
}

func TestParseLeaseID(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{in: "42", want: 42, ok: true},
		{in: "0x2a", want: 42, ok: true},
		{in: "0X2A", want: 42, ok: true},
		{in: " 7 ", want: 7, ok: true},
		{in: "0", ok: false},
		{in: "0x", ok: false},
		{in: "lease", ok: false},
	}
	for _, tc := range cases {
		got, err := parseLeaseID(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("parseLeaseID(%q) err=%v", tc.in, err)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("parseLeaseID(%q)=%d want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseTTLSeconds(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{in: "60", want: 60, ok: true},
		{in: "90s", want: 90, ok: true},
		{in: "1h", want: 3600, ok: true},
		{in: "0", ok: false},
		{in: "-5", ok: false},
		{in: "500ms", ok: false},
		{in: "soon", ok: false},
	}
	for _, tc := range cases {
		got, err := parseTTLSeconds(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("parseTTLSeconds(%q) err=%v", tc.in, err)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("parseTTLSeconds(%q)=%d want %d", tc.in, got, tc.want)
		}
	}
}
