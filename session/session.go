// Package session persists the bearer token obtained by `etcdgw auth login`.
// The token is sealed with kryptograf and stored in a PEM file next to the key
// material that protects it, by default $HOME/.etcdgw/session.pem.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/etcdgw"
	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/internal/seal"
)

const (
	// DefaultFileName is the session file name under etcdgw.DefaultConfigDir.
	DefaultFileName = "session.pem"

	blockType         = "ETCDGW SESSION"
	descriptorName    = "etcdgw-session"
	descriptorContext = "etcdgw/session"
	dataVersion       = 1
)

// ErrNoSession is returned when no usable session is stored.
var ErrNoSession = errors.New("session: no session")

// Data is the persisted session payload.
type Data struct {
	Version    int       `json:"version"`
	Server     string    `json:"server"`
	APIVersion string    `json:"api_version"`
	User       string    `json:"user,omitempty"`
	Token      string    `json:"token"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FromClient captures the token currently held by cli.
func FromClient(cli *client.Client, user string, now time.Time) *Data {
	if now.IsZero() {
		now = time.Now()
	}
	return &Data{
		Version:    dataVersion,
		Server:     cli.Server(),
		APIVersion: cli.Version(),
		User:       strings.TrimSpace(user),
		Token:      cli.Token(),
		UpdatedAt:  now.UTC(),
	}
}

// Matches reports whether the session was issued by server using version.
func (d *Data) Matches(server, version string) bool {
	if d == nil {
		return false
	}
	return client.NormalizeServer(d.Server) == client.NormalizeServer(server) &&
		strings.Trim(d.APIVersion, "/") == strings.Trim(strings.TrimSpace(version), "/")
}

// Apply installs the stored token into s.
func (d *Data) Apply(s *client.Session) {
	if d == nil || s == nil {
		return
	}
	s.Set(d.Token)
}

// DefaultPath returns the session file under etcdgw.DefaultConfigDir.
func DefaultPath() (string, error) {
	dir, err := etcdgw.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultFileName), nil
}

func resolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return "", fmt.Errorf("session: resolve default path: %w", err)
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("session: resolve path: %w", err)
	}
	return abs, nil
}

// Load reads and decrypts the session at path (DefaultPath when empty).
func Load(path string) (*Data, error) {
	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("session: read: %w", err)
	}
	ciphertext, ok, err := seal.FindBlock(raw, blockType)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing %s block", ErrNoSession, blockType)
	}
	keys, err := seal.Load(raw, descriptorName, descriptorContext)
	if err != nil {
		if errors.Is(err, seal.ErrNoKeys) {
			return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
		}
		return nil, fmt.Errorf("session: %w", err)
	}
	plaintext, err := keys.Open(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	var data Data
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	if data.Version != dataVersion {
		return nil, fmt.Errorf("session: unsupported version %d", data.Version)
	}
	if strings.TrimSpace(data.Token) == "" {
		return nil, ErrNoSession
	}
	return &data, nil
}

// Save encrypts data and writes it to path (DefaultPath when empty). The key
// material already in the file is reused.
func Save(path string, data *Data) error {
	if data == nil {
		return fmt.Errorf("session: payload required")
	}
	path, err := resolvePath(path)
	if err != nil {
		return err
	}
	out := *data
	out.Version = dataVersion
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(&out)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	unlock, err := acquireLock(path)
	if err != nil {
		return err
	}
	defer unlock()

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: read existing: %w", err)
	}
	keys, base, err := seal.Ensure(existing, descriptorName, descriptorContext)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	ciphertext, err := keys.Seal(payload)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	updated, err := seal.UpsertBlock(base, blockType, ciphertext)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := seal.WriteAtomic(path, updated, 0o600); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// Remove deletes the session at path. A missing file is not an error.
func Remove(path string) error {
	path, err := resolvePath(path)
	if err != nil {
		return err
	}
	unlock, err := acquireLock(path)
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: remove: %w", err)
	}
	return nil
}

func acquireLock(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("session: create dir: %w", err)
	}
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("session: open lock: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("session: lock: %w", err)
	}
	return func() {
		_ = unlockFile(f)
		_ = f.Close()
	}, nil
}
