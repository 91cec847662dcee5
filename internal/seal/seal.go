// Package seal wraps kryptograf envelope encryption for small files kept by
// etcdgw: the session file and snapshot payloads. Key material lives in PEM
// blocks managed by kryptograf/keymgmt; sealed payloads are stored alongside
// it in a block of the caller's choosing.
package seal

import (
	"bytes"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
)

// ErrNoKeys reports PEM data without the root key or the named descriptor.
var ErrNoKeys = errors.New("seal: key material missing")

// Keys holds a root key and the descriptor of one data encryption key. A DEK
// is reconstructed for every operation and zeroed afterwards.
type Keys struct {
	root    keymgmt.RootKey
	desc    keymgmt.Descriptor
	context []byte
}

// Ensure loads the key material in existing, creating the root key and the
// named descriptor when absent. It returns the keys together with the PEM
// bytes to persist (existing, or the newly created material).
func Ensure(existing []byte, name, context string) (*Keys, []byte, error) {
	var out []byte
	store, err := keymgmt.LoadPEMInto(existing, &out)
	if err != nil {
		return nil, nil, fmt.Errorf("seal: load key bundle: %w", err)
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		return nil, nil, fmt.Errorf("seal: ensure root key: %w", err)
	}
	mat, err := store.EnsureDescriptor(name, root, []byte(context))
	if err != nil {
		return nil, nil, fmt.Errorf("seal: ensure descriptor %s: %w", name, err)
	}
	desc := mat.Descriptor
	mat.Zero()
	if err := store.Commit(); err != nil {
		return nil, nil, fmt.Errorf("seal: commit key material: %w", err)
	}
	if len(out) == 0 {
		out = existing
	}
	if len(out) == 0 {
		raw, err := store.Bytes()
		if err != nil {
			return nil, nil, fmt.Errorf("seal: serialize key material: %w", err)
		}
		out = raw
	}
	return &Keys{root: root, desc: desc, context: []byte(context)}, out, nil
}

// Load reads existing key material. Missing keys yield ErrNoKeys.
func Load(pemBytes []byte, name, context string) (*Keys, error) {
	if len(bytes.TrimSpace(pemBytes)) == 0 {
		return nil, ErrNoKeys
	}
	store, err := keymgmt.LoadPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("seal: load key material: %w", err)
	}
	root, ok, err := store.RootKey()
	if err != nil {
		return nil, fmt.Errorf("seal: read root key: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: root key", ErrNoKeys)
	}
	desc, ok, err := store.Descriptor(name)
	if err != nil {
		return nil, fmt.Errorf("seal: read descriptor %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: descriptor %s", ErrNoKeys, name)
	}
	return &Keys{root: root, desc: desc, context: []byte(context)}, nil
}

// LoadFile reads key material from path.
func LoadFile(path, name, context string) (*Keys, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNoKeys, path)
		}
		return nil, fmt.Errorf("seal: read key file: %w", err)
	}
	return Load(raw, name, context)
}

// EnsureFile loads key material from path, creating and writing it when the
// file or the descriptor is missing.
func EnsureFile(path, name, context string) (*Keys, error) {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("seal: read key file: %w", err)
	}
	keys, out, err := Ensure(existing, name, context)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(out, existing) {
		if err := WriteAtomic(path, out, 0o600); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func (k *Keys) material() (kg kryptograf.Kryptograf, mat kryptograf.Material, err error) {
	if k == nil {
		return kg, mat, ErrNoKeys
	}
	kg = kryptograf.New(k.root)
	mat, err = kg.ReconstructDEK(k.context, k.desc)
	if err != nil {
		return kg, mat, fmt.Errorf("seal: reconstruct DEK: %w", err)
	}
	return kg, mat, nil
}

// Seal encrypts plaintext.
func (k *Keys) Seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := k.EncryptWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("seal: encrypt write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("seal: encrypt close: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts ciphertext produced by Seal.
func (k *Keys) Open(ciphertext []byte) ([]byte, error) {
	r, err := k.DecryptReader(bytes.NewReader(ciphertext))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("seal: decrypt read: %w", err)
	}
	return plaintext, nil
}

// EncryptWriter returns a writer encrypting into dst. Close flushes the final
// chunk and zeroes the DEK.
func (k *Keys) EncryptWriter(dst io.Writer) (io.WriteCloser, error) {
	kg, mat, err := k.material()
	if err != nil {
		return nil, err
	}
	w, err := kg.EncryptWriter(dst, mat)
	if err != nil {
		mat.Zero()
		return nil, fmt.Errorf("seal: encrypt: %w", err)
	}
	return &zeroingWriter{WriteCloser: w, mat: mat}, nil
}

// DecryptReader returns a reader decrypting src. Close zeroes the DEK.
func (k *Keys) DecryptReader(src io.Reader) (io.ReadCloser, error) {
	kg, mat, err := k.material()
	if err != nil {
		return nil, err
	}
	r, err := kg.DecryptReader(src, mat)
	if err != nil {
		mat.Zero()
		return nil, fmt.Errorf("seal: decrypt: %w", err)
	}
	return &zeroingReader{ReadCloser: r, mat: mat}, nil
}

type zeroingWriter struct {
	io.WriteCloser
	mat kryptograf.Material
}

func (w *zeroingWriter) Close() error {
	defer w.mat.Zero()
	return w.WriteCloser.Close()
}

type zeroingReader struct {
	io.ReadCloser
	mat kryptograf.Material
}

func (r *zeroingReader) Close() error {
	defer r.mat.Zero()
	return r.ReadCloser.Close()
}

// FindBlock returns the bytes of the first PEM block of type typ.
func FindBlock(data []byte, typ string) ([]byte, bool, error) {
	blocks, err := decodeBlocks(data)
	if err != nil {
		return nil, false, err
	}
	for _, block := range blocks {
		if block.Type == typ {
			return append([]byte(nil), block.Bytes...), true, nil
		}
	}
	return nil, false, nil
}

// UpsertBlock replaces (or appends) the PEM block of type typ in base.
func UpsertBlock(base []byte, typ string, payload []byte) ([]byte, error) {
	blocks, err := decodeBlocks(base)
	if err != nil {
		return nil, err
	}
	filtered := make([]*pem.Block, 0, len(blocks)+1)
	for _, block := range blocks {
		if block.Type == typ {
			continue
		}
		filtered = append(filtered, block)
	}
	filtered = append(filtered, &pem.Block{Type: typ, Bytes: payload})
	var buf bytes.Buffer
	for _, block := range filtered {
		if err := pem.Encode(&buf, block); err != nil {
			return nil, fmt.Errorf("seal: encode PEM block %s: %w", block.Type, err)
		}
	}
	return buf.Bytes(), nil
}

func decodeBlocks(data []byte) ([]*pem.Block, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	rest := data
	blocks := make([]*pem.Block, 0, 8)
	for len(bytes.TrimSpace(rest)) > 0 {
		block, next := pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("seal: parse PEM blocks: invalid PEM data")
		}
		blocks = append(blocks, block)
		rest = next
	}
	return blocks, nil
}

// WriteAtomic writes data to a temporary sibling of path and renames it into
// place. Missing parent directories are created with mode 0700.
func WriteAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("seal: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("seal: write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("seal: replace file: %w", err)
	}
	return nil
}
