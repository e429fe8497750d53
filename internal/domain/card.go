package domain

import (
	"errors"
	"fmt"
	"time"
)

// EntryType tells whether a card was written on one line or across a block.
type EntryType string

const (
	Multiline EntryType = "Multiline"
	Inline    EntryType = "inline"
)

// Entry is a single fact as found in a note. A new Entry is produced on every
// parse pass; entries are never mutated after extraction.
type Entry struct {
	Front     string    `json:"front"`
	Back      string    `json:"back"`
	ID        string    `json:"id,omitempty"`
	Path      string    `json:"path"`
	EntryType EntryType `json:"entryType"`
	// LineToAddID is the line where a freshly generated id must be embedded.
	// It is nil when the entry already carried an id.
	LineToAddID *int `json:"lineToAddId,omitempty"`
	IsNew       bool `json:"isNew,omitempty"`
}

// Card is an Entry plus its spaced-repetition schedule.
type Card struct {
	Entry
	Due           time.Time  `json:"due"`
	Stability     float64    `json:"stability"`
	Difficulty    float64    `json:"difficulty"`
	ElapsedDays   int        `json:"elapsed_days"`
	ScheduledDays int        `json:"scheduled_days"`
	Reps          int        `json:"reps"`
	Lapses        int        `json:"lapses"`
	State         State      `json:"state"`
	LastReview    *time.Time `json:"last_review,omitempty"`
}

// NewCard returns an unreviewed card for the entry, due immediately.
func NewCard(entry Entry, now time.Time) Card {
	return Card{
		Entry: entry,
		Due:   now,
		State: New,
	}
}

// Clone returns a copy that shares no pointers with c.
func (c Card) Clone() Card {
	out := c
	if c.LastReview != nil {
		v := *c.LastReview
		out.LastReview = &v
	}
	if c.LineToAddID != nil {
		v := *c.LineToAddID
		out.LineToAddID = &v
	}
	return out
}

// Validate checks that New, zero reps and a missing last review coincide.
func (c Card) Validate() error {
	isNew := c.State == New
	noReps := c.Reps == 0
	noReview := c.LastReview == nil
	if isNew != noReps || isNew != noReview {
		return fmt.Errorf("card %s: state %s with %d reps and last review set=%t",
			c.ID, c.State, c.Reps, !noReview)
	}
	if c.Stability < 0 {
		return errors.New("card " + c.ID + ": negative stability")
	}
	return nil
}

// ReviewLog records a single grading event. The fields hold the card as it
// was when the review happened so the event can be audited or undone.
type ReviewLog struct {
	Rating          Rating    `json:"rating"`
	State           State     `json:"state"`
	Due             time.Time `json:"due"`
	Stability       float64   `json:"stability"`
	Difficulty      float64   `json:"difficulty"`
	ElapsedDays     int       `json:"elapsed_days"`
	LastElapsedDays int       `json:"last_elapsed_days"`
	ScheduledDays   int       `json:"scheduled_days"`
	Review          time.Time `json:"review"`
}

// RecordLogItem pairs a rescheduled card with the log of the review that
// produced it.
type RecordLogItem struct {
	Card Card      `json:"card"`
	Log  ReviewLog `json:"log"`
}
