package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/etcdgw"
	"pkt.systems/etcdgw/client"
	"pkt.systems/etcdgw/internal/pathutil"
	"pkt.systems/pslog"
)

const (
	configKey         = "config"
	serverKey         = "server"
	apiVersionKey     = "api-version"
	timeoutKey        = "timeout"
	bundleKey         = "bundle"
	http2Key          = "http2"
	prettyKey         = "pretty"
	tokenKey          = "token"
	sessionKey        = "session"
	outputKey         = "output"
	logLevelKey       = "log-level"
	logOutputKey      = "log-output"
	otlpEndpointKey   = "otlp-endpoint"
	metricsListenKey  = "metrics-listen"
	runtimeMetricsKey = "runtime-metrics"
	httpTraceKey      = "http-trace"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("ETCDGW_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "etcdgw")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", describeError(err))
		}
		return 1
	}
	return 0
}

// describeError points at auth login when the gateway rejected the token.
func describeError(err error) string {
	if client.IsAuthError(err) {
		return err.Error() + " (try: etcdgw auth login USER)"
	}
	return err.Error()
}

func humanizeBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

func mustBindFlag(key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString(configKey))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if candidate, err := etcdgw.DefaultConfigFile(); err == nil {
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}

	if cfgPath == "" {
		return "", nil
	}

	expanded, err := pathutil.Resolve(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cfg := &cliConfig{baseLogger: baseLogger}
	var verbose bool
	cmd := &cobra.Command{
		Use:           "etcdgw",
		Short:         "etcdgw talks to the etcd v3 grpc gateway over HTTP/JSON",
		SilenceErrors: true,
		Example: `
  # Store and read a key on the local gateway
  etcdgw kv put greeting hello
  etcdgw kv get greeting

  # List every key below /app/ as YAML
  etcdgw --server https://etcd.example:2379 --bundle ~/.etcdgw/client.pem kv get /app/ --prefix -o yaml

  # Log in once; later commands reuse the encrypted session
  etcdgw auth login root --password secret
  etcdgw user list

  # Snapshot a prefix to MinIO and restore it elsewhere
  ETCDGW_S3_ACCESS_KEY_ID=minioadmin ETCDGW_S3_SECRET_ACCESS_KEY=minioadmin \
    etcdgw snapshot save "s3://localhost:9000/backups/etcd?insecure=1" --prefix /app/
  etcdgw --server 10.0.0.2:2379 snapshot restore "s3://localhost:9000/backups/etcd?insecure=1"
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	viper.SetEnvPrefix("ETCDGW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	flags := cmd.PersistentFlags()
	flags.StringP(configKey, "c", "", "path to YAML config file (default $HOME/.etcdgw/config.yaml)")
	flags.StringP(serverKey, "s", client.DefaultServer, "gateway address (host:port or http(s) URL)")
	flags.String(apiVersionKey, client.DefaultVersion, "gateway API version path segment (v3alpha|v3beta|v3)")
	flags.Duration(timeoutKey, client.DefaultHTTPTimeout, "per-request HTTP timeout")
	flags.StringP(bundleKey, "b", "", "client bundle PEM (CA, certificate, key) for https servers")
	flags.Bool(http2Key, false, "negotiate HTTP/2 with https servers")
	flags.Bool(prettyKey, false, "print simplified results instead of raw gateway responses")
	flags.String(tokenKey, "", "auth token (default from the session file)")
	flags.String(sessionKey, "", "session file (default $HOME/.etcdgw/session.pem)")
	flags.StringP(outputKey, "o", string(outputText), "output format (text|json|yaml)")
	flags.String(logLevelKey, "none", "client log level (trace|debug|info|warn|error|none)")
	flags.String(logOutputKey, "", "client log output path (default stderr)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose (trace) client logging")
	flags.String(otlpEndpointKey, "", "OTLP collector endpoint for traces (grpc://, grpcs://, http://, https://)")
	flags.String(metricsListenKey, "", "serve Prometheus metrics on this address while the command runs")
	flags.Bool(runtimeMetricsKey, false, "include Go runtime metrics (requires --metrics-listen)")
	flags.Bool(httpTraceKey, false, "log low-level HTTP connection events")

	mustBindFlag(configKey, "ETCDGW_CONFIG", flags.Lookup(configKey))
	mustBindFlag(serverKey, "ETCDGW_SERVER", flags.Lookup(serverKey))
	mustBindFlag(apiVersionKey, "ETCDGW_API_VERSION", flags.Lookup(apiVersionKey))
	mustBindFlag(timeoutKey, "ETCDGW_TIMEOUT", flags.Lookup(timeoutKey))
	mustBindFlag(bundleKey, "ETCDGW_BUNDLE", flags.Lookup(bundleKey))
	mustBindFlag(http2Key, "ETCDGW_HTTP2", flags.Lookup(http2Key))
	mustBindFlag(prettyKey, "ETCDGW_PRETTY", flags.Lookup(prettyKey))
	mustBindFlag(tokenKey, "ETCDGW_TOKEN", flags.Lookup(tokenKey))
	mustBindFlag(sessionKey, "ETCDGW_SESSION", flags.Lookup(sessionKey))
	mustBindFlag(outputKey, "ETCDGW_OUTPUT", flags.Lookup(outputKey))
	mustBindFlag(logLevelKey, "ETCDGW_CLIENT_LOG_LEVEL", flags.Lookup(logLevelKey))
	mustBindFlag(logOutputKey, "ETCDGW_CLIENT_LOG_OUTPUT", flags.Lookup(logOutputKey))
	mustBindFlag(otlpEndpointKey, "ETCDGW_OTLP_ENDPOINT", flags.Lookup(otlpEndpointKey))
	mustBindFlag(metricsListenKey, "ETCDGW_METRICS_LISTEN", flags.Lookup(metricsListenKey))
	mustBindFlag(runtimeMetricsKey, "ETCDGW_RUNTIME_METRICS", flags.Lookup(runtimeMetricsKey))
	mustBindFlag(httpTraceKey, "ETCDGW_HTTP_TRACE", flags.Lookup(httpTraceKey))

	cfg.verboseFlag = &verbose

	cmd.AddCommand(
		newKVCommand(cfg),
		newLeaseCommand(cfg),
		newAuthCommand(cfg),
		newRoleCommand(cfg),
		newUserCommand(cfg),
		newSnapshotCommand(cfg),
		newConfigCommand(cfg),
		newVersionCommand(),
	)
	return cmd
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
