package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/storage"
)

func NewReviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "review <deck>",
		Short: "List the due cards of a deck",
		Long:  `List the cards of a deck that are due now, earliest first. Grade them with "recall grade".`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, ok := a.decks.Deck(args[0])
			if !ok {
				return fmt.Errorf("review: %q: %w", args[0], storage.ErrDeckNotFound)
			}
			due := d.Due(a.now())

			if asJSON(cmd) {
				if due == nil {
					due = []domain.Card{}
				}
				return printJSON(cmd, due)
			}

			if len(due) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing due in %q.\n", d.Name())
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tDUE\tFRONT\tNOTE")
			for _, c := range due {
				front := strings.ReplaceAll(c.Front, "\n", " ")
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.State, c.Due.Local().Format("2006-01-02 15:04"), front, c.Path)
			}
			return tw.Flush()
		},
	}
}

func NewGradeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade <card-id> <grade>",
		Short: "Grade a card: again, hard, good or easy (or 1-4)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			grade, err := parseGrade(args[1])
			if err != nil {
				return err
			}
			deckName, _ := cmd.Flags().GetString("deck")
			item, err := a.decks.Review(cmd.Context(), deckName, args[0], grade, a.now())
			if err != nil {
				return fmt.Errorf("grade: %w", err)
			}
			if asJSON(cmd) {
				return printJSON(cmd, item)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s graded %s: %s, next due %s\n",
				item.Card.ID, grade, item.Card.State, item.Card.Due.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().String("deck", "", "Only grade the card if it belongs to this deck")
	return cmd
}

func NewUndoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <card-id>",
		Short: "Undo the latest review of a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			card, err := a.decks.Undo(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("undo: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s restored: %s, due %s\n",
				card.ID, card.State, card.Due.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
}

// parseGrade accepts a grade name in any case or its number.
func parseGrade(s string) (domain.Rating, error) {
	s = strings.TrimSpace(s)
	if s != "" {
		s = strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	}
	grade, err := domain.ParseRating(s)
	if err != nil {
		return 0, err
	}
	if !grade.IsGrade() {
		return 0, fmt.Errorf("invalid grade %q: use again, hard, good or easy", s)
	}
	return grade, nil
}
