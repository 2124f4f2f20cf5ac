package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var errListingUnsupported = errors.New("session listing requires store.driver=sqlite")

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions from the run store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rt, err := opts.runtime(cmd.Context(), cfg, opts.logger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer rt.Close()

			summaries, ok, err := rt.Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if !ok {
				return errListingUnsupported
			}

			title := color.New(color.Bold)
			if opts.noColor {
				title.DisableColor()
			}
			fmt.Fprintln(cmd.OutOrStdout(), title.Sprintf("%d session(s)", len(summaries)))

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSTAGE\tVERSION\tUPDATED")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Status, s.Stage, s.Version, s.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of sessions")
	return cmd
}
