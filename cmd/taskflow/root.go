package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Gurpartap/taskflow/internal/config"
	"github.com/Gurpartap/taskflow/internal/logging"
	"github.com/Gurpartap/taskflow/internal/runtimewire"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	noColor    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "taskflow",
		Short: "File Notion tasks from natural-language requests",
		Long: `taskflow turns a request such as "remind me to renew the domain next
Friday" into a Notion task. It asks for missing details, proposes a
classification for confirmation and then writes the page.

Run "taskflow serve" for the HTTP and websocket API or "taskflow chat" for
an interactive terminal session.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	flags.BoolVar(&opts.noColor, "no-color", color.NoColor, "disable coloured output")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newSessionsCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.OverrideLogging(o.logLevel, o.logFormat); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (o *rootOptions) logger(cfg config.Config, out io.Writer) *slog.Logger {
	return logging.New(out, cfg.LogLevel, cfg.LogFormat, o.noColor)
}

func (o *rootOptions) runtime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtimewire.Runtime, error) {
	return runtimewire.New(ctx, cfg, logger, runtimewire.Options{})
}
