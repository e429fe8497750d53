package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conorfennell/recall/internal/domain"
)

func NewDecksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decks",
		Short: "Manage decks",
		Long:  `A deck is every card whose note path starts with the deck's root path.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List decks with their due counts",
			Args:    cobra.NoArgs,
			RunE:    makeDecksListRunner(a),
		},
		&cobra.Command{
			Use:   "add <name> <root-path>",
			Short: "Add a deck",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.decks.AddDeck(cmd.Context(), domain.DeckMetaData{Name: args[0], RootPath: args[1]}); err != nil {
					return fmt.Errorf("add deck: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added deck %q\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <name> <new-name>",
			Short: "Rename a deck",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.decks.RenameDeck(cmd.Context(), args[0], args[1]); err != nil {
					return fmt.Errorf("rename deck: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed deck %q to %q\n", args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "move <name> <root-path>",
			Short: "Change the root path of a deck",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, ok := a.decks.Deck(args[0])
				if !ok {
					return fmt.Errorf("move deck: no deck named %q", args[0])
				}
				meta := d.MetaData()
				meta.RootPath = args[1]
				if err := a.decks.ModifyDeck(cmd.Context(), args[0], meta); err != nil {
					return fmt.Errorf("move deck: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deck %q now covers %s\n", args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:     "delete <name>",
			Aliases: []string{"rm"},
			Short:   "Delete a deck; its cards are kept",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.decks.DeleteDeck(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("delete deck: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted deck %q\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func makeDecksListRunner(a *app) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		now := a.now()
		decks := a.decks.Decks()

		if asJSON(cmd) {
			data := make([]map[string]any, 0, len(decks))
			for _, d := range decks {
				data = append(data, map[string]any{
					"name":     d.Name(),
					"rootPath": d.MetaData().RootPath,
					"total":    d.Len(),
					"due":      len(d.Due(now)),
				})
			}
			return printJSON(cmd, data)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DECK\tROOT\tCARDS\tDUE")
		for _, d := range decks {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", d.Name(), d.MetaData().RootPath, d.Len(), len(d.Due(now)))
		}
		return tw.Flush()
	}
}
