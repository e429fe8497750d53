package domain

import (
	"fmt"
	"strconv"
)

// State is the learning stage of a card.
type State int

const (
	New State = iota
	Learning
	Review
	Relearning
)

var stateNames = [...]string{New: "New", Learning: "Learning", Review: "Review", Relearning: "Relearning"}

func (s State) String() string {
	if s >= New && s <= Relearning {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Rating is the outcome of a review.
// 0: Manual (out-of-band correction, never scheduled)
// 1: Again (Incorrect)
// 2: Hard
// 3: Good
// 4: Easy
type Rating int

const (
	Manual Rating = iota
	Again
	Hard
	Good
	Easy
)

// Grades lists the ratings that drive scheduling, in ascending order.
var Grades = []Rating{Again, Hard, Good, Easy}

var ratingNames = [...]string{Manual: "Manual", Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}

func (r Rating) String() string {
	if r >= Manual && r <= Easy {
		return ratingNames[r]
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// IsGrade reports whether r can be fed to the scheduler.
func (r Rating) IsGrade() bool {
	return r >= Again && r <= Easy
}

// ParseRating accepts a rating name ("Good") or its number ("3").
func ParseRating(s string) (Rating, error) {
	for i, name := range ratingNames {
		if name == s {
			return Rating(i), nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < int(Manual) || n > int(Easy) {
		return 0, fmt.Errorf("invalid rating %q", s)
	}
	return Rating(n), nil
}
