package etcdgw

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/internal/pathutil"
	"pkt.systems/pslog"
)

const (
	// ConfigDirEnv overrides DefaultConfigDir.
	ConfigDirEnv = "ETCDGW_CONFIG_DIR"
	// DefaultConfigFileName is the YAML config file read by the CLI.
	DefaultConfigFileName = "config.yaml"
)

// Config holds the settings shared by the CLI and programs embedding the
// client.
type Config struct {
	Server     string
	APIVersion string
	Timeout    time.Duration
	BundlePath string
	HTTP2      bool
	HTTPTrace  bool
	Tracing    bool
	Pretty     bool
	Token      string

	SessionPath string

	OTLPEndpoint   string
	MetricsListen  string
	RuntimeMetrics bool
}

// Validate fills defaults and rejects unusable settings.
func (c *Config) Validate() error {
	c.Server = client.NormalizeServer(c.Server)
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("config: server: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("config: server scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("config: server %q has no host", c.Server)
	}
	c.APIVersion = strings.Trim(strings.TrimSpace(c.APIVersion), "/")
	if c.APIVersion == "" {
		c.APIVersion = client.DefaultVersion
	}
	if !strings.HasPrefix(c.APIVersion, "v3") {
		return fmt.Errorf("config: api version %q is not a v3 gateway version", c.APIVersion)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must be >= 0")
	}
	if c.Timeout == 0 {
		c.Timeout = client.DefaultHTTPTimeout
	}
	if c.BundlePath, err = pathutil.Resolve(c.BundlePath); err != nil {
		return fmt.Errorf("config: bundle path: %w", err)
	}
	if c.BundlePath != "" && u.Scheme != "https" {
		return fmt.Errorf("config: bundle %s requires an https server", c.BundlePath)
	}
	if c.SessionPath, err = pathutil.Resolve(c.SessionPath); err != nil {
		return fmt.Errorf("config: session path: %w", err)
	}
	c.Token = strings.TrimSpace(c.Token)
	if c.RuntimeMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: runtime metrics require metrics-listen")
	}
	return nil
}

// TLSEnabled reports whether the gateway is reached over HTTPS.
func (c Config) TLSEnabled() bool {
	return strings.HasPrefix(c.Server, "https://")
}

// ClientOptions translates c into client options. Call Validate first.
func (c Config) ClientOptions(logger pslog.Base) []client.Option {
	opts := []client.Option{
		client.WithVersion(c.APIVersion),
		client.WithHTTPTimeout(c.Timeout),
		client.WithPretty(c.Pretty),
		client.WithLogger(logger),
	}
	if c.BundlePath != "" {
		opts = append(opts, client.WithBundlePath(c.BundlePath), client.WithBundlePathDisableExpansion())
	}
	if c.HTTP2 && c.TLSEnabled() {
		opts = append(opts, client.WithHTTP2())
	}
	if c.HTTPTrace {
		opts = append(opts, client.WithHTTPTrace())
	}
	if c.Tracing || strings.TrimSpace(c.OTLPEndpoint) != "" {
		opts = append(opts, client.WithTracing())
	}
	if c.Token != "" {
		opts = append(opts, client.WithToken(c.Token))
	}
	return opts
}

// NewClient validates c and builds a gateway client.
func NewClient(c Config, logger pslog.Base, extra ...client.Option) (*client.Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return client.New(c.Server, append(c.ClientOptions(logger), extra...)...)
}

// DefaultConfigDir returns $ETCDGW_CONFIG_DIR or $HOME/.etcdgw.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(ConfigDirEnv)); override != "" {
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".etcdgw"), nil
}

// DefaultConfigFile returns the YAML config path under DefaultConfigDir.
func DefaultConfigFile() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFileName), nil
}
