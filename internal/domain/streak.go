package domain

import "time"

// DayLayout is the date-only form used for due dates and streak days.
const DayLayout = "2006-01-02"

// Streak counts consecutive days with at least one note review.
type Streak struct {
	Count          int    `json:"count"`
	LastReviewDate string `json:"lastReviewDate,omitempty"`
}

// Record registers a review on the calendar day of now. A review on the day
// after LastReviewDate extends the streak, a review on the same day changes
// nothing, and any other gap starts over at one.
func (s Streak) Record(now time.Time) Streak {
	today := now.Format(DayLayout)
	switch s.LastReviewDate {
	case today:
		return s
	case now.AddDate(0, 0, -1).Format(DayLayout):
		return Streak{Count: s.Count + 1, LastReviewDate: today}
	default:
		return Streak{Count: 1, LastReviewDate: today}
	}
}

// Current is the streak as seen on the day of now: it lapses to zero once a
// full day passes without a review.
func (s Streak) Current(now time.Time) int {
	switch s.LastReviewDate {
	case now.Format(DayLayout), now.AddDate(0, 0, -1).Format(DayLayout):
		return s.Count
	default:
		return 0
	}
}
