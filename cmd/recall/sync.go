package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewSyncCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile cards in notes with their records",
		Long: `Scan every note for cards, give new cards an id and a record, update
records whose card changed, and hide records whose card is gone.`,
		Args: cobra.NoArgs,
		RunE: makeSyncRunner(a),
	}

	cmd.Flags().String("git", "", "Clone or pull this git repository and sync it as the vault")
	cmd.Flags().String("git-dir", "repos", "Directory holding git checkouts")
	return cmd
}

func makeSyncRunner(a *app) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		report, err := a.decks.Sync(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		if asJSON(cmd) {
			return printJSON(cmd, report)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Scanned %d notes, %d cards: %d created, %d updated, %d recreated, %d hidden, %d failed.\n",
			report.Notes, report.Entries, report.Created, report.Updated, report.Recreated, report.Hidden, report.Failed)
		if !a.vault.DryRun() {
			return nil
		}
		patches := a.vault.Patches()
		fmt.Fprintf(out, "Dry run: %d notes would change.\n", len(patches))
		for _, p := range patches {
			fmt.Fprint(out, p.String())
		}
		return nil
	}
}
