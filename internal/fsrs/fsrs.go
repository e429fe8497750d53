package fsrs

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

// ErrInvalidGrade is returned when a rating that cannot be scheduled
// (Manual, or out of range) is passed to Next.
var ErrInvalidGrade = errors.New("fsrs: invalid grade")

// Short-term learning steps used when EnableShortTerm is set.
const (
	againStep = time.Minute
	hardStep  = 5 * time.Minute
	goodStep  = 10 * time.Minute
)

// Params holds the parameters for the FSRS algorithm.
type Params struct {
	RequestRetention float64     `json:"request_retention"` // target recall probability, in (0, 1)
	MaximumInterval  int         `json:"maximum_interval"`  // days
	W                [19]float64 `json:"w"`
	EnableFuzz       bool        `json:"enable_fuzz"`
	EnableShortTerm  bool        `json:"enable_short_term"`
}

// DefaultParams provides the published defaults.
func DefaultParams() Params {
	return Params{
		RequestRetention: 0.9,
		MaximumInterval:  36500,
		W:                DefaultWeights,
		EnableFuzz:       false,
		EnableShortTerm:  true,
	}
}

// Validate rejects parameters the formulas cannot work with.
func (p Params) Validate() error {
	if p.RequestRetention <= 0 || p.RequestRetention >= 1 {
		return fmt.Errorf("fsrs: request retention %f out of range (0, 1)", p.RequestRetention)
	}
	if p.MaximumInterval < 1 {
		return fmt.Errorf("fsrs: maximum interval %d must be at least 1", p.MaximumInterval)
	}
	for i, w := range p.W {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("fsrs: w[%d] is not finite", i)
		}
	}
	return nil
}

// FSRS schedules card reviews. It holds no mutable state and is safe for
// concurrent use.
type FSRS struct {
	params           Params
	intervalModifier float64
}

// New creates a scheduler. A zero weight vector is replaced by DefaultWeights.
func New(p Params) (*FSRS, error) {
	if p.W == [19]float64{} {
		p.W = DefaultWeights
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &FSRS{
		params:           p,
		intervalModifier: (math.Pow(p.RequestRetention, 1/Decay) - 1) / Factor,
	}, nil
}

// Basic returns the scheduler with short-term learning steps enabled.
func Basic() *FSRS {
	return mustNew(true)
}

// LongTerm returns the scheduler that schedules every review in whole days.
func LongTerm() *FSRS {
	return mustNew(false)
}

func mustNew(shortTerm bool) *FSRS {
	p := DefaultParams()
	p.RequestRetention = 0.90
	p.EnableShortTerm = shortTerm
	f, err := New(p)
	if err != nil {
		panic(err)
	}
	return f
}

// Params returns the scheduler's configuration.
func (f *FSRS) Params() Params {
	return f.params
}

// Next reviews card at now with grade. The input card is not mutated.
func (f *FSRS) Next(card domain.Card, now time.Time, grade domain.Rating) (domain.RecordLogItem, error) {
	if !grade.IsGrade() {
		return domain.RecordLogItem{}, fmt.Errorf("%w: %s", ErrInvalidGrade, grade)
	}

	last := card.Clone()
	current := card.Clone()

	elapsed := 0
	if current.State != domain.New && current.LastReview != nil {
		elapsed = int(math.Floor(now.Sub(*current.LastReview).Hours() / 24))
		elapsed = max(elapsed, 0)
	}
	current.LastReview = &now
	current.ElapsedDays = elapsed
	current.Reps++

	var fz *fuzzer
	if f.params.EnableFuzz {
		fz = newFuzzer(now, current.Reps, last.Difficulty, last.Stability)
	}

	var next domain.Card
	if f.params.EnableShortTerm {
		next = f.shortTerm(last, current, now, grade, fz)
	} else {
		next = f.longTerm(last, current, now, grade, fz)
	}

	return domain.RecordLogItem{Card: next, Log: buildLog(last, current, grade, now)}, nil
}

// Repeat returns the outcome of every grade for the review at now.
func (f *FSRS) Repeat(card domain.Card, now time.Time) map[domain.Rating]domain.RecordLogItem {
	out := make(map[domain.Rating]domain.RecordLogItem, len(domain.Grades))
	for _, g := range domain.Grades {
		item, _ := f.Next(card, now, g)
		out[g] = item
	}
	return out
}

// Retrievability estimates the probability of recalling card at now.
func (f *FSRS) Retrievability(card domain.Card, now time.Time) float64 {
	if card.State == domain.New || card.LastReview == nil {
		return 0
	}
	elapsed := math.Max(now.Sub(*card.LastReview).Hours()/24, 0)
	return ForgettingCurve(math.Floor(elapsed), card.Stability)
}

// Rollback undoes the review recorded in log, returning the card as it was
// before that review.
func Rollback(card domain.Card, log domain.ReviewLog) (domain.Card, error) {
	if !log.Rating.IsGrade() {
		return domain.Card{}, fmt.Errorf("%w: cannot roll back %s", ErrInvalidGrade, log.Rating)
	}
	out := card.Clone()
	out.Due = log.Due
	out.State = log.State
	out.Stability = log.Stability
	out.Difficulty = log.Difficulty
	out.ElapsedDays = log.LastElapsedDays
	out.ScheduledDays = log.ScheduledDays
	out.Reps = max(card.Reps-1, 0)
	if log.Rating == domain.Again && log.State == domain.Review {
		out.Lapses = max(card.Lapses-1, 0)
	}
	if log.State == domain.New {
		out.LastReview = nil
		out.Reps = 0
		out.Lapses = 0
		out.ElapsedDays = 0
	} else {
		prev := log.Due
		out.LastReview = &prev
	}
	return out, nil
}

func buildLog(last, current domain.Card, grade domain.Rating, now time.Time) domain.ReviewLog {
	due := last.Due
	if last.LastReview != nil {
		due = *last.LastReview
	}
	return domain.ReviewLog{
		Rating:          grade,
		State:           current.State,
		Due:             due,
		Stability:       current.Stability,
		Difficulty:      current.Difficulty,
		ElapsedDays:     current.ElapsedDays,
		LastElapsedDays: last.ElapsedDays,
		ScheduledDays:   current.ScheduledDays,
		Review:          now,
	}
}

// shortTerm keeps New and (Re)learning cards on minute-scale steps until a
// Good or Easy promotes them to Review.
func (f *FSRS) shortTerm(last, current domain.Card, now time.Time, g domain.Rating, fz *fuzzer) domain.Card {
	next := current
	switch current.State {
	case domain.New:
		next.Difficulty = f.initDifficulty(g, true)
		next.Stability = f.initStability(g)
		switch g {
		case domain.Again:
			stepTo(&next, now, againStep, domain.Learning)
		case domain.Hard:
			stepTo(&next, now, hardStep, domain.Learning)
		case domain.Good:
			stepTo(&next, now, goodStep, domain.Learning)
		case domain.Easy:
			f.reviewIn(&next, now, f.nextInterval(next.Stability, current.ElapsedDays, fz))
		}

	case domain.Learning, domain.Relearning:
		next.Difficulty = f.nextDifficulty(last.Difficulty, g)
		next.Stability = f.nextShortTermStability(last.Stability, g)
		switch g {
		case domain.Again:
			stepTo(&next, now, hardStep, last.State)
		case domain.Hard:
			stepTo(&next, now, goodStep, last.State)
		case domain.Good:
			f.reviewIn(&next, now, f.nextInterval(next.Stability, current.ElapsedDays, fz))
		case domain.Easy:
			goodStability := f.nextShortTermStability(last.Stability, domain.Good)
			goodIvl := f.nextInterval(goodStability, current.ElapsedDays, fz)
			easyIvl := max(f.nextInterval(next.Stability, current.ElapsedDays, fz), goodIvl+1)
			f.reviewIn(&next, now, easyIvl)
		}

	default:
		r := ForgettingCurve(float64(current.ElapsedDays), last.Stability)
		next.Difficulty = f.nextDifficulty(last.Difficulty, g)
		if g == domain.Again {
			next.Stability = f.nextForgetStability(last.Difficulty, last.Stability, r)
			next.Lapses++
			stepTo(&next, now, hardStep, domain.Relearning)
			break
		}
		ivls := f.recallIntervals(last, r, current.ElapsedDays, fz)
		next.Stability = f.nextRecallStability(last.Difficulty, last.Stability, r, g)
		f.reviewIn(&next, now, ivls[g])
	}
	return next
}

// longTerm skips learning steps: every grade is scheduled in whole days.
func (f *FSRS) longTerm(last, current domain.Card, now time.Time, g domain.Rating, fz *fuzzer) domain.Card {
	next := current
	stability := make(map[domain.Rating]float64, 4)
	difficulty := make(map[domain.Rating]float64, 4)

	if current.State == domain.New {
		for _, grade := range domain.Grades {
			difficulty[grade] = f.initDifficulty(grade, true)
			stability[grade] = f.initStability(grade)
		}
	} else {
		r := ForgettingCurve(float64(current.ElapsedDays), last.Stability)
		for _, grade := range domain.Grades {
			difficulty[grade] = f.nextDifficulty(last.Difficulty, grade)
			if grade == domain.Again {
				stability[grade] = f.nextForgetStability(last.Difficulty, last.Stability, r)
			} else {
				stability[grade] = f.nextRecallStability(last.Difficulty, last.Stability, r, grade)
			}
		}
	}

	again := f.nextInterval(stability[domain.Again], current.ElapsedDays, fz)
	hard := f.nextInterval(stability[domain.Hard], current.ElapsedDays, fz)
	good := f.nextInterval(stability[domain.Good], current.ElapsedDays, fz)
	easy := f.nextInterval(stability[domain.Easy], current.ElapsedDays, fz)
	again = min(again, hard)
	hard = max(hard, again+1)
	good = max(good, hard+1)
	easy = max(easy, good+1)
	ivls := map[domain.Rating]int{domain.Again: again, domain.Hard: hard, domain.Good: good, domain.Easy: easy}

	next.Difficulty = difficulty[g]
	next.Stability = stability[g]
	if g == domain.Again && current.State != domain.New {
		next.Lapses++
	}
	f.reviewIn(&next, now, ivls[g])
	return next
}

// recallIntervals computes the Hard/Good/Easy intervals of a Review card,
// forcing hard <= good < easy.
func (f *FSRS) recallIntervals(last domain.Card, r float64, elapsed int, fz *fuzzer) map[domain.Rating]int {
	hardS := f.nextRecallStability(last.Difficulty, last.Stability, r, domain.Hard)
	goodS := f.nextRecallStability(last.Difficulty, last.Stability, r, domain.Good)
	easyS := f.nextRecallStability(last.Difficulty, last.Stability, r, domain.Easy)

	hard := f.nextInterval(hardS, elapsed, fz)
	good := f.nextInterval(goodS, elapsed, fz)
	hard = min(hard, good)
	good = max(good, hard+1)
	easy := max(f.nextInterval(easyS, elapsed, fz), good+1)
	return map[domain.Rating]int{domain.Hard: hard, domain.Good: good, domain.Easy: easy}
}

func (f *FSRS) reviewIn(c *domain.Card, now time.Time, days int) {
	days = clampInterval(days, f.params.MaximumInterval)
	c.ScheduledDays = days
	c.Due = now.Add(time.Duration(days) * 24 * time.Hour)
	c.State = domain.Review
}

// stepTo schedules a minute-scale learning step. Such cards keep
// scheduled_days at 0, the one exception to the [1, maximum_interval] range.
func stepTo(c *domain.Card, now time.Time, step time.Duration, state domain.State) {
	c.ScheduledDays = 0
	c.Due = now.Add(step)
	c.State = state
}
