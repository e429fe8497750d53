package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func NewRootCmd(version string, a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "recall",
		Short: "Spaced repetition for a folder of markdown notes",
		Long: `Find flashcards written inline ("front :: back") or across lines
(front, a "?" line, back) in markdown notes, keep their review schedule next
to the notes, and review whole notes on a schedule kept in their frontmatter.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.Close()
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	addPersistentFlags(rootCmd)
	addSubcommands(rootCmd, a)
	return rootCmd
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "Config file (default recall.yaml when present)")
	cmd.PersistentFlags().String("env-file", "", "Environment file (default .env when present)")
	cmd.PersistentFlags().String("vault", ".", "Vault directory")
	cmd.PersistentFlags().String("memory-dir", "SR", "Vault folder holding card records")
	cmd.PersistentFlags().Bool("dry-run", false, "Print the changes to notes instead of writing them")
	cmd.PersistentFlags().String("storage", "files", "Card storage backend (files|sqlite)")
	cmd.PersistentFlags().String("dsn", "recall.db", "SQLite database path")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().String("log-format", "text", "Log format (text|json)")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
}

func addSubcommands(root *cobra.Command, a *app) {
	root.AddCommand(
		NewSyncCmd(a),
		NewDecksCmd(a),
		NewReviewCmd(a),
		NewGradeCmd(a),
		NewUndoCmd(a),
		NewNotesCmd(a),
		NewServeCmd(a),
		NewWatchCmd(a),
	)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
