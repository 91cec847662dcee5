package fakegw

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pkt.systems/etcdgw/internal/clock"
)

func post(t *testing.T, s *Server, path, token string, body map[string]any) (int, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v3/"+path, bytes.NewReader(payload))
	if token != "" {
		req.Header.Set("Grpc-Metadata-Token", token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s response %q: %v", path, rec.Body.String(), err)
	}
	return rec.Code, out
}

func TestPutRangeWireShape(t *testing.T) {
	s := New()
	if code, _ := post(t, s, "kv/put", "", map[string]any{"key": b64("k"), "value": b64("v")}); code != http.StatusOK {
		t.Fatalf("put status %d", code)
	}
	code, resp := post(t, s, "kv/range", "", map[string]any{"key": b64("k")})
	if code != http.StatusOK {
		t.Fatalf("range status %d", code)
	}
	if resp["count"] != "1" {
		t.Fatalf("expected count as string, got %#v", resp["count"])
	}
	kvs, ok := resp["kvs"].([]any)
	if !ok || len(kvs) != 1 {
		t.Fatalf("unexpected kvs %#v", resp["kvs"])
	}
	kv := kvs[0].(map[string]any)
	if kv["key"] != b64("k") || kv["value"] != b64("v") {
		t.Fatalf("unexpected kv %#v", kv)
	}
	header := resp["header"].(map[string]any)
	if header["revision"] != "2" {
		t.Fatalf("unexpected header revision %#v", header["revision"])
	}
}

func TestRangeEndSemantics(t *testing.T) {
	cases := []struct {
		key, start, end string
		want            bool
	}{
		{"a", "a", "", true},
		{"ab", "a", "", false},
		{"zz", "\x00", "\x00", true},
		{"b", "a", "c", true},
		{"c", "a", "c", false},
	}
	for _, tc := range cases {
		if got := inRange(tc.key, tc.start, tc.end); got != tc.want {
			t.Fatalf("inRange(%q, %q, %q) = %v, want %v", tc.key, tc.start, tc.end, got, tc.want)
		}
	}
}

func TestAuthRequiresToken(t *testing.T) {
	s := New()
	post(t, s, "auth/user/add", "", map[string]any{"name": "root", "password": "pw"})
	if code, _ := post(t, s, "auth/enable", "", map[string]any{"etcdgw-client": 1}); code != http.StatusOK {
		t.Fatalf("enable status %d", code)
	}
	code, resp := post(t, s, "kv/range", "", map[string]any{"key": b64("k")})
	if code != http.StatusUnauthorized || resp["code"] != float64(codeUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %d %#v", code, resp)
	}
	_, resp = post(t, s, "auth/authenticate", "", map[string]any{"name": "root", "password": "pw"})
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatalf("expected token, got %#v", resp)
	}
	if code, _ := post(t, s, "kv/range", token, map[string]any{"key": b64("k")}); code != http.StatusOK {
		t.Fatalf("expected authorized range, got %d", code)
	}
}

func TestLeaseExpiryRemovesKeys(t *testing.T) {
	clk := clock.NewManual(time.Unix(1700000000, 0))
	s := New(WithClock(clk))
	_, resp := post(t, s, "lease/grant", "", map[string]any{"TTL": 5, "ID": 0})
	id := resp["ID"].(string)
	post(t, s, "kv/put", "", map[string]any{"key": b64("ephemeral"), "value": b64("x"), "lease": id})
	clk.Advance(6 * time.Second)
	_, resp = post(t, s, "kv/range", "", map[string]any{"key": b64("ephemeral")})
	if _, ok := resp["kvs"]; ok {
		t.Fatalf("expected key to expire with its lease, got %#v", resp["kvs"])
	}
	_, resp = post(t, s, "kv/lease/timetolive", "", map[string]any{"ID": id})
	if resp["TTL"] != "-1" {
		t.Fatalf("expected TTL -1 for expired lease, got %#v", resp["TTL"])
	}
}
