package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conorfennell/recall/internal/watch"
)

func NewWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever a note changes",
		Long: `Run a sync, then watch the vault and sync again after each burst of
changes. With --auto-track, new notes are also tracked for review.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := a.decks.Sync(cmd.Context())
			if err != nil {
				return fmt.Errorf("initial sync: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d cards from %d notes. Watching %s for changes...\n",
				report.Entries, report.Notes, a.vault.Root())

			w := watch.New(a.vault, a.decks, a.notes, watch.Options{
				Debounce: a.cfg.Watch.Debounce,
				Logger:   a.logger.With("component", "watch"),
				Now:      a.now,
			})
			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "Debounce window for batching changes")
	cmd.Flags().Bool("auto-track", false, "Track new notes for review")
	return cmd
}
