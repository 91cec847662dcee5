package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/internal/clock"
	"pkt.systems/etcdgw/internal/fakegw"
)

func newClient(t *testing.T, opts ...client.Option) (*client.Client, *fakegw.Server) {
	t.Helper()
	gw, url := fakegw.Start(t)
	cli, err := client.New(url, append([]client.Option{client.WithVersion(gw.Version())}, opts...)...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return cli, gw
}

func seed(t *testing.T, cli *client.Client, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		if _, err := cli.Put(context.Background(), k, v); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
}

func TestExportPagesInKeyOrder(t *testing.T) {
	ctx := context.Background()
	cli, gw := newClient(t)
	seed(t, cli, map[string]string{
		"/app/a": "1", "/app/b": "2", "/app/c": "3", "/app/d": "4", "/app/e": "5",
		"/other/x": "nope",
	})
	created := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	snap, err := Export(ctx, cli, "/app/", Options{PageSize: 2, Clock: clock.NewManual(created)})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(snap.Entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(snap.Entries))
	}
	for i, want := range []string{"/app/a", "/app/b", "/app/c", "/app/d", "/app/e"} {
		if string(snap.Entries[i].Key) != want {
			t.Fatalf("entry %d: got %q want %q", i, snap.Entries[i].Key, want)
		}
	}
	if snap.Revision != gw.Revision() {
		t.Fatalf("revision %d, want %d", snap.Revision, gw.Revision())
	}
	if !snap.CreatedAt.Equal(created) || snap.Prefix != "/app/" || snap.Server != cli.Server() {
		t.Fatalf("unexpected metadata %+v", snap)
	}
	if snap.Size() != int64(5*len("/app/a")+5) {
		t.Fatalf("unexpected size %d", snap.Size())
	}
}

func TestExportWholeKeyspace(t *testing.T) {
	cli, _ := newClient(t)
	seed(t, cli, map[string]string{"a": "1", "b": "2", "c": "3"})
	snap, err := Export(context.Background(), cli, "", Options{PageSize: 1})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(snap.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap.Entries))
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, _ := newClient(t)
	seed(t, src, map[string]string{"/cfg/mode": "active", "/cfg/bin": "\x00\x01\xff"})
	snap, err := Export(ctx, src, "/cfg/", Options{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst, _ := newClient(t, client.WithPretty(true))
	seed(t, dst, map[string]string{"/cfg/stale": "x"})
	n, err := Restore(ctx, dst, snap, Options{DeleteExisting: true})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 2 {
		t.Fatalf("restored %d entries", n)
	}
	res, err := dst.GetKeysWithPrefix(ctx, "/cfg/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, ok := res.Pretty.(map[string]string)
	if !ok {
		t.Fatalf("unexpected pretty value %T", res.Pretty)
	}
	want := map[string]string{"/cfg/mode": "active", "/cfg/bin": "\x00\x01\xff"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("key %q: got %q want %q", k, got[k], v)
		}
	}
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	cli, _ := newClient(t)
	if _, err := Restore(context.Background(), cli, &Snapshot{Version: 99}, Options{}); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestEncodeDecodeSealed(t *testing.T) {
	keys, err := LoadKeys(t.TempDir()+"/snapshot.pem", true)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	snap := &Snapshot{Version: FormatVersion, Prefix: "/p/", Entries: []Entry{{Key: []byte("/p/k"), Value: []byte("secret-value")}}}
	data, err := Encode(snap, keys)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.Contains(data, []byte("secret-value")) || bytes.Contains(data, []byte(`"entries"`)) {
		t.Fatalf("sealed snapshot leaks plaintext")
	}
	if _, err := Decode(data, nil); !errors.Is(err, ErrEncrypted) {
		t.Fatalf("expected ErrEncrypted, got %v", err)
	}
	out, err := Decode(data, keys)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out.Entries[0].Value) != "secret-value" {
		t.Fatalf("unexpected entry %+v", out.Entries[0])
	}

	plain, err := Encode(snap, nil)
	if err != nil {
		t.Fatalf("encode plain: %v", err)
	}
	if _, err := Decode(plain, keys); err != nil {
		t.Fatalf("plain snapshot must decode with keys present: %v", err)
	}
}

func TestLoadKeysMissingFile(t *testing.T) {
	if _, err := LoadKeys(t.TempDir()+"/none.pem", false); err == nil {
		t.Fatalf("expected error for missing key file")
	}
	keys, err := LoadKeys("", false)
	if err != nil || keys != nil {
		t.Fatalf("empty path: %v %v", keys, err)
	}
}

func TestDiskSinkSaveLoadLatest(t *testing.T) {
	ctx := context.Background()
	sink, err := OpenSink(ctx, "file://"+t.TempDir()+"/backups")
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer sink.Close()
	if _, err := Latest(ctx, sink); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty sink, got %v", err)
	}
	var names []string
	for i := 0; i < 3; i++ {
		snap := &Snapshot{Version: FormatVersion, Prefix: fmt.Sprintf("/gen/%d/", i)}
		name, err := Save(ctx, sink, snap, nil)
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		names = append(names, name)
	}
	list, err := List(ctx, sink)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[2] != names[2] {
		t.Fatalf("unexpected list %v (saved %v)", list, names)
	}
	latest, name, err := Load(ctx, sink, "", nil)
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if name != names[2] || latest.Prefix != "/gen/2/" {
		t.Fatalf("latest %s %+v", name, latest)
	}
	if _, _, err := Load(ctx, sink, "missing"+Extension, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := sink.Delete(ctx, names[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := sink.Delete(ctx, names[0]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := sink.Put(ctx, "../escape", nil); err == nil {
		t.Fatalf("expected invalid name error")
	}
}

func TestOpenSinkRejectsUnknownScheme(t *testing.T) {
	if _, err := OpenSink(context.Background(), "ftp://host/x"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := OpenSink(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty location")
	}
}
