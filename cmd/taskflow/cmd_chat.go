package main

import (
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Gurpartap/taskflow/internal/chat"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "File tasks interactively in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			// Run events are logged at info; keep them off the chat unless asked for.
			if opts.logLevel == "" {
				cfg.LogLevel = slog.LevelWarn
			}
			logger := opts.logger(cfg, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			rt, err := opts.runtime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			return chat.Run(ctx, rt, cmd.InOrStdin(), cmd.OutOrStdout(), opts.noColor)
		},
	}
}
