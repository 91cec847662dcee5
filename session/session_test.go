package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/internal/seal"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pem")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &Data{Server: "http://10.0.0.1:2379", APIVersion: "v3", User: "root", Token: "tok.abc.1", UpdatedAt: now}
	if err := Save(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(raw), "tok.abc.1") {
		t.Fatalf("token stored in clear text")
	}
	if !strings.Contains(string(raw), "BEGIN "+blockType) {
		t.Fatalf("missing session block:\n%s", raw)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Token != in.Token || out.User != "root" || out.Version != dataVersion || !out.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected session %+v", out)
	}
}

func TestSaveReusesKeyMaterial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pem")
	if err := Save(path, &Data{Server: "a:1", APIVersion: "v3", Token: "one"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	first, _ := os.ReadFile(path)
	if err := Save(path, &Data{Server: "a:1", APIVersion: "v3", Token: "two"}); err != nil {
		t.Fatalf("save again: %v", err)
	}
	second, _ := os.ReadFile(path)
	oldBlock, ok, err := seal.FindBlock(first, blockType)
	if err != nil || !ok {
		t.Fatalf("find block: %v %v", ok, err)
	}
	keys, err := seal.Load(second, descriptorName, descriptorContext)
	if err != nil {
		t.Fatalf("load keys: %v", err)
	}
	if _, err := keys.Open(oldBlock); err != nil {
		t.Fatalf("key material rotated on save: %v", err)
	}
	out, err := Load(path)
	if err != nil || out.Token != "two" {
		t.Fatalf("load: %+v %v", out, err)
	}
}

func TestLoadMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "none.pem")); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	empty := filepath.Join(dir, "empty.pem")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(empty); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for empty file, got %v", err)
	}
	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not pem"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(garbage); err == nil {
		t.Fatalf("expected error for invalid file")
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pem")
	if err := Remove(path); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	if err := Save(path, &Data{Server: "a:1", APIVersion: "v3", Token: "t"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after remove, got %v", err)
	}
}

func TestDefaultPathHonoursConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ETCDGW_CONFIG_DIR", dir)
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("default path: %v", err)
	}
	if path != filepath.Join(dir, DefaultFileName) {
		t.Fatalf("unexpected path %s", path)
	}
	if err := Save("", &Data{Server: "a:1", APIVersion: "v3", Token: "t"}); err != nil {
		t.Fatalf("save default: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat: %v", err)
	}
}

func TestMatchesAndApply(t *testing.T) {
	cli, err := client.New("127.0.0.1:2379/", client.WithVersion("/v3/"))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	cli.SetToken("abc")
	d := FromClient(cli, " root ", time.Time{})
	if d.User != "root" || d.Token != "abc" || d.UpdatedAt.IsZero() {
		t.Fatalf("unexpected data %+v", d)
	}
	if !d.Matches("127.0.0.1:2379", "v3") {
		t.Fatalf("expected match for equivalent server")
	}
	if d.Matches("127.0.0.1:2380", "v3") || d.Matches("127.0.0.1:2379", "v3beta") {
		t.Fatalf("unexpected match")
	}
	var nilData *Data
	if nilData.Matches("127.0.0.1:2379", "v3") {
		t.Fatalf("nil data must not match")
	}
	s := client.NewSession("")
	d.Apply(s)
	if s.Token() != "abc" {
		t.Fatalf("apply did not set token")
	}
}

func TestWatchSignalsOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pem")
	w, err := Watch(path)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Close()
	if err := Save(path, &Data{Server: "a:1", APIVersion: "v3", Token: "t"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	select {
	case <-w.Events():
	case <-time.After(5 * time.Second):
		t.Fatalf("no change event")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-w.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("events channel not closed")
		}
	}
}
