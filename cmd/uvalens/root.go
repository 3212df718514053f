package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/uvalang/uvalens/internal/config"
	"github.com/uvalang/uvalens/internal/logger"
)

// cli holds the global flags and the state set up before each command.
type cli struct {
	configPath string
	overrides  config.Overrides

	cfg       *config.Config
	logCloser logger.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "uvalens",
		Short: "Client for the uvalang analyzer",
		Long: `uvalens drives the uvalang-analyzer, turns its results into decorations
and diagnostics, and serves them to editor hosts over HTTP and WebSocket.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logCloser != nil {
				c.logCloser.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", config.DefaultConfigFile, "path to the YAML config file")
	stringOverride(root, &c.overrides.Binary, "binary", "analyzer binary name or path")
	stringOverride(root, &c.overrides.Mode, "mode", `analyzer mode: "server" or "oneshot"`)
	stringOverride(root, &c.overrides.Framing, "framing", `server response framing: "stream" or "length-prefixed"`)
	stringOverride(root, &c.overrides.Workspace, "workspace", "workspace root")
	stringOverride(root, &c.overrides.LogLevel, "log-level", "debug, info, warn or error")

	root.AddCommand(
		newServeCmd(c),
		newAnalyzeCmd(c),
		newTokensCmd(c),
		newDefinitionCmd(c),
		newEventsCmd(c),
		newVersionCmd(),
	)
	return root
}

// setup loads the config and installs the default logger.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	cfg, err := config.LoadWithOverrides(c.configPath, c.overrides)
	if err != nil {
		return err
	}
	c.cfg = cfg

	l, closer := logger.New(cfg.Logging)
	slog.SetDefault(l)
	c.logCloser = closer
	slog.Debug("config loaded", "path", c.configPath, "mode", cfg.Analyzer.Mode, "binary", cfg.Analyzer.Binary)
	return nil
}

// stringOverride registers a flag whose value only overrides the config
// when it is set explicitly.
func stringOverride(cmd *cobra.Command, dst **string, name, usage string) {
	cmd.PersistentFlags().Var(&optionalString{dst: dst}, name, usage)
}

type optionalString struct {
	dst **string
}

func (o *optionalString) String() string {
	if o.dst == nil || *o.dst == nil {
		return ""
	}
	return **o.dst
}

func (o *optionalString) Set(v string) error {
	*o.dst = &v
	return nil
}

func (o *optionalString) Type() string { return "string" }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the uvalens version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "uvalens %s\n", version)
		},
	}
}
