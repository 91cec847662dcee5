package seal

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

const (
	testName    = "etcdgw-test"
	testContext = "etcdgw/test"
)

func TestEnsureSealOpen(t *testing.T) {
	keys, pemBytes, err := Ensure(nil, testName, testContext)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(pemBytes) == 0 {
		t.Fatalf("expected key material")
	}
	ciphertext, err := keys.Seal([]byte("token-123"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(ciphertext, []byte("token-123")) {
		t.Fatalf("ciphertext contains plaintext")
	}
	loaded, err := Load(pemBytes, testName, testContext)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	plaintext, err := loaded.Open(ciphertext)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(plaintext) != "token-123" {
		t.Fatalf("unexpected plaintext %q", plaintext)
	}
}

func TestEnsureKeepsExistingMaterial(t *testing.T) {
	first, pemBytes, err := Ensure(nil, testName, testContext)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	ciphertext, err := first.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	second, _, err := Ensure(pemBytes, testName, testContext)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	plaintext, err := second.Open(ciphertext)
	if err != nil || string(plaintext) != "payload" {
		t.Fatalf("open with re-ensured keys: %q %v", plaintext, err)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(nil, testName, testContext); !errors.Is(err, ErrNoKeys) {
		t.Fatalf("expected ErrNoKeys, got %v", err)
	}
	_, pemBytes, err := Ensure(nil, testName, testContext)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := Load(pemBytes, "other", testContext); !errors.Is(err, ErrNoKeys) {
		t.Fatalf("expected ErrNoKeys for unknown descriptor, got %v", err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.pem"), testName, testContext); !errors.Is(err, ErrNoKeys) {
		t.Fatalf("expected ErrNoKeys for missing file, got %v", err)
	}
}

func TestStreamRoundTrip(t *testing.T) {
	keys, _, err := Ensure(nil, testName, testContext)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	payload := bytes.Repeat([]byte("etcd snapshot entry\n"), 10000)
	var sealed bytes.Buffer
	w, err := keys.EncryptWriter(&sealed)
	if err != nil {
		t.Fatalf("encrypt writer: %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	r, err := keys.DecryptReader(&sealed)
	if err != nil {
		t.Fatalf("decrypt reader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close reader: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %d vs %d bytes", len(got), len(payload))
	}
}

func TestEnsureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "snapshot.pem")
	keys, err := EnsureFile(path, testName, testContext)
	if err != nil {
		t.Fatalf("ensure file: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode %v", info.Mode().Perm())
	}
	ciphertext, err := keys.Seal([]byte("x"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	loaded, err := LoadFile(path, testName, testContext)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if out, err := loaded.Open(ciphertext); err != nil || string(out) != "x" {
		t.Fatalf("open: %q %v", out, err)
	}
}

func TestBlocks(t *testing.T) {
	_, base, err := Ensure(nil, testName, testContext)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, ok, err := FindBlock(base, "ETCDGW-TEST"); err != nil || ok {
		t.Fatalf("unexpected block: %v %v", ok, err)
	}
	first, err := UpsertBlock(base, "ETCDGW-TEST", []byte("one"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := UpsertBlock(first, "ETCDGW-TEST", []byte("two"))
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	got, ok, err := FindBlock(second, "ETCDGW-TEST")
	if err != nil || !ok || string(got) != "two" {
		t.Fatalf("find block: %q %v %v", got, ok, err)
	}
	if bytes.Count(second, []byte("BEGIN ETCDGW-TEST")) != 1 {
		t.Fatalf("expected a single block:\n%s", second)
	}
	if _, err := Load(second, testName, testContext); err != nil {
		t.Fatalf("key material lost after upsert: %v", err)
	}
	if _, _, err := FindBlock([]byte("garbage"), "X"); err == nil {
		t.Fatalf("expected error for invalid PEM")
	}
}
