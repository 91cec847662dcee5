package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/etcdgw"
	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/internal/clock"
	"pkt.systems/etcdgw/internal/svcfields"
	"pkt.systems/etcdgw/session"
	"pkt.systems/pslog"
)

const (
	envCorrelationID = "ETCDGW_CORRELATION_ID"

	telemetryShutdownTimeout = 5 * time.Second
)

type cliConfig struct {
	baseLogger  pslog.Logger
	verboseFlag *bool
	clock       clock.Clock

	loaded      bool
	configFile  string
	cfg         etcdgw.Config
	output      outputMode
	logLevel    string
	logOutput   string
	logger      pslog.Base
	logClosers  []io.Closer
	loggerReady bool
	telemetry   *etcdgw.Telemetry
	cli         *client.Client
	tokenSource string
}

func (c *cliConfig) load() error {
	if c.loaded {
		return nil
	}
	configFile, err := loadConfigFile()
	if err != nil {
		return err
	}
	c.configFile = configFile
	c.cfg = etcdgw.Config{
		Server:         viper.GetString(serverKey),
		APIVersion:     viper.GetString(apiVersionKey),
		Timeout:        viper.GetDuration(timeoutKey),
		BundlePath:     viper.GetString(bundleKey),
		HTTP2:          viper.GetBool(http2Key),
		HTTPTrace:      viper.GetBool(httpTraceKey),
		Pretty:         viper.GetBool(prettyKey),
		Token:          viper.GetString(tokenKey),
		SessionPath:    viper.GetString(sessionKey),
		OTLPEndpoint:   viper.GetString(otlpEndpointKey),
		MetricsListen:  viper.GetString(metricsListenKey),
		RuntimeMetrics: viper.GetBool(runtimeMetricsKey),
	}
	if c.cfg.SessionPath == "" {
		if c.cfg.SessionPath, err = session.DefaultPath(); err != nil {
			return fmt.Errorf("resolve session path: %w", err)
		}
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	mode, err := parseOutputMode(viper.GetString(outputKey))
	if err != nil {
		return err
	}
	c.output = mode
	c.logOutput = viper.GetString(logOutputKey)
	c.logLevel = strings.TrimSpace(viper.GetString(logLevelKey))
	if c.verboseFlag != nil && *c.verboseFlag {
		c.logLevel = "trace"
	}
	if err := c.setupLogger(); err != nil {
		return err
	}
	c.clock = clock.Or(c.clock)
	c.loaded = true
	return nil
}

func (c *cliConfig) setupLogger() error {
	if c.loggerReady {
		return nil
	}
	levelStr := strings.TrimSpace(strings.ToLower(c.logLevel))
	if levelStr == "" {
		levelStr = "none"
	}
	if levelStr == "none" || levelStr == "disabled" || levelStr == "off" {
		c.logger = nil
		c.loggerReady = true
		return nil
	}
	level, ok := pslog.ParseLevel(levelStr)
	if !ok {
		return fmt.Errorf("invalid client log level %q", c.logLevel)
	}
	if level == pslog.NoLevel || level == pslog.Disabled {
		c.logger = nil
		c.loggerReady = true
		return nil
	}
	var writer io.Writer = os.Stderr
	if c.logOutput != "" {
		switch c.logOutput {
		case "-", "stdout":
			writer = os.Stdout
		case "stderr":
			writer = os.Stderr
		default:
			f, err := os.OpenFile(c.logOutput, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			c.logClosers = append(c.logClosers, f)
			writer = f
		}
	}
	c.logger = svcfields.WithSubsystem(pslog.NewStructured(writer), "client.cli").LogLevel(level)
	c.loggerReady = true
	return nil
}

func (c *cliConfig) cliLogger(subsystem string) pslog.Logger {
	return svcfields.WithSubsystem(c.baseLogger, subsystem)
}

// client builds the gateway client once per invocation. Without --token the
// stored session is used when it was issued by the same server and version.
func (c *cliConfig) client(ctx context.Context) (*client.Client, error) {
	if c.cli != nil {
		return c.cli, nil
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	if c.telemetry == nil {
		tel, err := etcdgw.SetupTelemetry(ctx, c.cfg.TelemetryConfig(), c.cliLogger("cli.telemetry"))
		if err != nil {
			return nil, err
		}
		c.telemetry = tel
	}
	cfg := c.cfg
	c.tokenSource = ""
	if cfg.Token != "" {
		c.tokenSource = "flag"
	} else {
		data, err := session.Load(cfg.SessionPath)
		switch {
		case err == nil && data.Matches(cfg.Server, cfg.APIVersion):
			cfg.Token = data.Token
			c.tokenSource = "session"
		case err == nil:
			c.cliLogger("cli.session").Debug("session.mismatch", "session_server", data.Server, "server", cfg.Server)
		case errors.Is(err, session.ErrNoSession):
		default:
			c.cliLogger("cli.session").Warn("session.load.error", "path", cfg.SessionPath, "error", err)
		}
	}
	cli, err := etcdgw.NewClient(cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.cli = cli
	return cli, nil
}

// saveSession persists the token currently held by cli.
func (c *cliConfig) saveSession(cli *client.Client, user string) error {
	data := session.FromClient(cli, user, c.clock.Now())
	if data.Token == "" {
		return session.Remove(c.cfg.SessionPath)
	}
	return session.Save(c.cfg.SessionPath, data)
}

func (c *cliConfig) cleanup(ctx context.Context) {
	if c.cli != nil {
		_ = c.cli.Close()
	}
	if c.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		if err := c.telemetry.Shutdown(shutdownCtx); err != nil {
			c.cliLogger("cli.telemetry").Warn("telemetry.shutdown.error", "error", err)
		}
		cancel()
	}
	for _, closer := range c.logClosers {
		_ = closer.Close()
	}
	c.logClosers = nil
	c.logger = nil
	c.loggerReady = false
	c.loaded = false
	c.cli = nil
	c.telemetry = nil
}

// run loads configuration, builds the client and runs fn with a context
// carrying the correlation id from ETCDGW_CORRELATION_ID, if set.
func (c *cliConfig) run(cmd *cobra.Command, fn func(ctx context.Context, cli *client.Client) error) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if id := strings.TrimSpace(os.Getenv(envCorrelationID)); id != "" {
		ctx = client.WithCorrelationID(ctx, id)
	}
	if err := c.load(); err != nil {
		return err
	}
	defer c.cleanup(ctx)
	cli, err := c.client(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, cli)
}
