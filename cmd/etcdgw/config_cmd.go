package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/etcdgw"
	"pkt.systems/etcdgw/client"
)

func newConfigCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage etcdgw configuration files",
	}
	cmd.AddCommand(newConfigGenCommand(), newConfigShowCommand(cfg))
	return cmd
}

// configFile mirrors the global flags; keys match flag names so viper reads
// the file directly.
type configFile struct {
	Server         string `yaml:"server"`
	APIVersion     string `yaml:"api-version"`
	Timeout        string `yaml:"timeout"`
	Bundle         string `yaml:"bundle"`
	HTTP2          bool   `yaml:"http2"`
	Pretty         bool   `yaml:"pretty"`
	Token          string `yaml:"token,omitempty"`
	Session        string `yaml:"session"`
	Output         string `yaml:"output"`
	LogLevel       string `yaml:"log-level"`
	LogOutput      string `yaml:"log-output"`
	OTLPEndpoint   string `yaml:"otlp-endpoint"`
	MetricsListen  string `yaml:"metrics-listen"`
	RuntimeMetrics bool   `yaml:"runtime-metrics"`
	HTTPTrace      bool   `yaml:"http-trace"`
}

func defaultConfigYAML() ([]byte, error) {
	defaults := configFile{
		Server:     client.DefaultServer,
		APIVersion: client.DefaultVersion,
		Timeout:    client.DefaultHTTPTimeout.String(),
		Output:     string(outputText),
		LogLevel:   "none",
	}
	return yaml.Marshal(defaults)
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.etcdgw/config.yaml"
	if path, err := etcdgw.DefaultConfigFile(); err == nil {
		defaultOutput = path
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default etcdgw configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if outPath == "" {
				if outPath, err = etcdgw.DefaultConfigFile(); err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o700); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

func newConfigShowCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (flags, environment and config file)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := cfg.load(); err != nil {
				return err
			}
			defer cfg.cleanup(cmd.Context())
			effective := configFile{
				Server:         cfg.cfg.Server,
				APIVersion:     cfg.cfg.APIVersion,
				Timeout:        cfg.cfg.Timeout.String(),
				Bundle:         cfg.cfg.BundlePath,
				HTTP2:          cfg.cfg.HTTP2,
				Pretty:         cfg.cfg.Pretty,
				Session:        cfg.cfg.SessionPath,
				Output:         string(cfg.output),
				LogLevel:       cfg.logLevel,
				LogOutput:      cfg.logOutput,
				OTLPEndpoint:   cfg.cfg.OTLPEndpoint,
				MetricsListen:  cfg.cfg.MetricsListen,
				RuntimeMetrics: cfg.cfg.RuntimeMetrics,
				HTTPTrace:      cfg.cfg.HTTPTrace,
			}
			if cfg.cfg.Token != "" {
				effective.Token = "<redacted>"
			}
			out := cmd.OutOrStdout()
			if cfg.configFile != "" {
				fmt.Fprintf(out, "# config file: %s\n", cfg.configFile)
			}
			return writeConfigYAML(out, effective)
		},
	}
}

func writeConfigYAML(out io.Writer, v configFile) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
