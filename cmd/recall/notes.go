package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conorfennell/recall/internal/notesched"
)

func NewNotesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Review whole notes on a schedule",
		Long: `Track notes for review. A tracked note keeps its schedule in sr-* keys
of its frontmatter and is first due the day after it is tracked.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "due",
			Short: "List notes due today",
			Args:  cobra.NoArgs,
			RunE:  makeNotesDueRunner(a),
		},
		&cobra.Command{
			Use:   "track <path>",
			Short: "Start reviewing a note",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				card, err := a.notes.Track(cmd.Context(), args[0], a.now())
				if err != nil {
					return fmt.Errorf("track: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Tracking %s, first review %s\n", args[0], card.Due.Format("2006-01-02"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "review <path> <grade>",
			Short: "Grade a note: again, hard, good or easy (or 1-4)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				grade, err := parseGrade(args[1])
				if err != nil {
					return err
				}
				item, err := a.notes.Review(cmd.Context(), args[0], grade, a.now())
				if err != nil {
					return fmt.Errorf("review note: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s graded %s, next review %s\n",
					args[0], grade, item.Card.Due.Format("2006-01-02"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "status <path>",
			Short: "Show when a note is due",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := a.notes.ReviewData(args[0])
				if errors.Is(err, notesched.ErrNotTracked) {
					fmt.Fprintln(cmd.OutOrStdout(), "Not Tracked")
					return nil
				}
				if err != nil {
					return fmt.Errorf("status: %w", err)
				}
				if asJSON(cmd) {
					return printJSON(cmd, data)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Review Due: %s\n", data.Due)
				return nil
			},
		},
		&cobra.Command{
			Use:   "streak",
			Short: "Show the run of days with a note review",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, current, err := a.notes.Streak(cmd.Context(), a.now())
				if err != nil {
					return fmt.Errorf("streak: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d day streak\n", current)
				return nil
			},
		},
	)
	return cmd
}

func makeNotesDueRunner(a *app) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		due, err := a.notes.DueNotes(cmd.Context(), a.now())
		if err != nil {
			return fmt.Errorf("due notes: %w", err)
		}
		if asJSON(cmd) {
			if due == nil {
				due = []notesched.ReviewData{}
			}
			return printJSON(cmd, due)
		}
		if len(due) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No notes due.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NOTE\tDUE\tINTERVAL\tSTATE")
		for _, d := range due {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.Path, d.Due, d.Interval, d.State)
		}
		return tw.Flush()
	}
}
