// Package notesched schedules whole notes for review, keeping each note's
// schedule in its own frontmatter.
package notesched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/fsrs"
)

var (
	ErrNotTracked     = errors.New("note is not tracked")
	ErrAlreadyTracked = errors.New("note is already being tracked")
	ErrExcluded       = errors.New("note is excluded from review")
)

// Frontmatter keys.
const (
	KeyDue           = "sr-due"
	KeyState         = "sr-state"
	KeyStability     = "sr-stability"
	KeyDifficulty    = "sr-difficulty"
	KeyElapsedDays   = "sr-elapsed-days"
	KeyScheduledDays = "sr-scheduled-days"
	KeyReps          = "sr-reps"
	KeyLapses        = "sr-lapses"
	KeyLastReview    = "sr-last-review"
	KeyInterval      = "sr-interval"
	KeyExclude       = "sr-exclude"
)

// MetaStore reads and edits note frontmatter.
type MetaStore interface {
	Notes(ctx context.Context) ([]string, error)
	ReadMeta(path string) (map[string]any, error)
	WriteMeta(path string, fn func(map[string]any) error) error
}

// StreakStore keeps the review streak.
type StreakStore interface {
	LoadStreak(ctx context.Context) (domain.Streak, error)
	SaveStreak(ctx context.Context, s domain.Streak) error
}

// Rules decide which notes may be scheduled.
type Rules struct {
	// ExcludedPaths are path prefixes that are never scheduled.
	ExcludedPaths []string
	// IncludedPaths, when set, is the whitelist of path prefixes that may be.
	IncludedPaths []string
	// AutoTrack tracks new notes as they are created.
	AutoTrack bool
}

// ReviewData is a tracked note's schedule as shown to a reviewer.
type ReviewData struct {
	Path       string      `json:"path"`
	Due        string      `json:"due"`
	Interval   int         `json:"interval"`
	Difficulty float64     `json:"difficulty"`
	State      string      `json:"state"`
	Card       domain.Card `json:"card"`
}

// Scheduler tracks and reviews notes.
type Scheduler struct {
	meta   MetaStore
	streak StreakStore
	fsrs   *fsrs.FSRS
	rules  Rules
	logger *slog.Logger

	streakMu sync.Mutex
}

// New builds a Scheduler. A nil scheduler defaults to fsrs.Basic().
func New(meta MetaStore, streak StreakStore, scheduler *fsrs.FSRS, rules Rules, logger *slog.Logger) *Scheduler {
	if scheduler == nil {
		scheduler = fsrs.Basic()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{meta: meta, streak: streak, fsrs: scheduler, rules: rules, logger: logger}
}

// IsTracked reports whether meta holds a schedule.
func IsTracked(meta map[string]any) bool {
	due, ok := meta[KeyDue]
	if !ok || due == nil {
		return false
	}
	s, isString := due.(string)
	return !isString || strings.TrimSpace(s) != ""
}

// IsTracked reports whether the note at p holds a schedule.
func (s *Scheduler) IsTracked(p string) (bool, error) {
	meta, err := s.meta.ReadMeta(p)
	if err != nil {
		return false, err
	}
	return IsTracked(meta), nil
}

// IsExcluded applies the path rules and the note's own exclusion flag.
func (s *Scheduler) IsExcluded(p string, meta map[string]any) bool {
	for _, prefix := range s.rules.ExcludedPaths {
		if matchesPrefix(p, prefix) {
			return true
		}
	}
	if len(s.rules.IncludedPaths) > 0 {
		included := false
		for _, prefix := range s.rules.IncludedPaths {
			if matchesPrefix(p, prefix) {
				included = true
				break
			}
		}
		if !included {
			return true
		}
	}
	flag, _ := meta[KeyExclude].(bool)
	return flag
}

func matchesPrefix(p, prefix string) bool {
	prefix = strings.TrimSpace(prefix)
	return prefix != "" && strings.HasPrefix(p, prefix)
}

// Track starts scheduling a note. The first review is always one calendar
// day after now, whatever the scheduler would say.
func (s *Scheduler) Track(ctx context.Context, p string, now time.Time) (domain.Card, error) {
	if err := ctx.Err(); err != nil {
		return domain.Card{}, err
	}
	meta, err := s.meta.ReadMeta(p)
	if err != nil {
		return domain.Card{}, err
	}
	if IsTracked(meta) {
		return domain.Card{}, fmt.Errorf("%s: %w", p, ErrAlreadyTracked)
	}
	if s.IsExcluded(p, meta) {
		return domain.Card{}, fmt.Errorf("%s: %w", p, ErrExcluded)
	}

	card := domain.NewCard(noteEntry(p), now)
	card.Due = now.AddDate(0, 0, 1)
	card.ScheduledDays = 1

	if err := s.save(p, card); err != nil {
		return domain.Card{}, err
	}
	s.logger.Info("Tracking note", "path", p, "due", card.Due.Format(domain.DayLayout))
	return card, nil
}

// AutoTrack tracks a newly created note when auto-tracking is on. Notes that
// are already tracked or excluded are skipped without error.
func (s *Scheduler) AutoTrack(ctx context.Context, p string, now time.Time) (bool, error) {
	if !s.rules.AutoTrack {
		return false, nil
	}
	_, err := s.Track(ctx, p, now)
	if errors.Is(err, ErrAlreadyTracked) || errors.Is(err, ErrExcluded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReviewData returns the schedule of a note, or ErrNotTracked.
func (s *Scheduler) ReviewData(p string) (ReviewData, error) {
	meta, err := s.meta.ReadMeta(p)
	if err != nil {
		return ReviewData{}, err
	}
	return reviewData(p, meta, time.Local)
}

func reviewData(p string, meta map[string]any, loc *time.Location) (ReviewData, error) {
	card, err := loadCard(p, meta, loc)
	if err != nil {
		return ReviewData{}, err
	}
	return ReviewData{
		Path:       p,
		Due:        card.Due.Format(domain.DayLayout),
		Interval:   intValue(meta[KeyInterval]),
		Difficulty: floatValue(meta[KeyDifficulty]),
		State:      card.State.String(),
		Card:       card,
	}, nil
}

// DueNotes lists the tracked, non-excluded notes due on or before the
// calendar day of today. Notes whose frontmatter cannot be read are skipped
// with a warning.
func (s *Scheduler) DueNotes(ctx context.Context, today time.Time) ([]ReviewData, error) {
	notes, err := s.meta.Notes(ctx)
	if err != nil {
		return nil, err
	}
	day := today.Format(domain.DayLayout)

	var due []ReviewData
	for _, p := range notes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		meta, err := s.meta.ReadMeta(p)
		if err != nil {
			s.logger.Warn("Skipping note with unreadable frontmatter", "path", p, "error", err)
			continue
		}
		if !IsTracked(meta) || s.IsExcluded(p, meta) {
			continue
		}
		data, err := reviewData(p, meta, today.Location())
		if err != nil {
			s.logger.Warn("Skipping note with invalid schedule", "path", p, "error", err)
			continue
		}
		if data.Due <= day {
			due = append(due, data)
		}
	}
	return due, nil
}

// Review grades a tracked note, writes the new schedule back, and counts the
// day towards the review streak.
func (s *Scheduler) Review(ctx context.Context, p string, grade domain.Rating, now time.Time) (domain.RecordLogItem, error) {
	meta, err := s.meta.ReadMeta(p)
	if err != nil {
		return domain.RecordLogItem{}, err
	}
	card, err := loadCard(p, meta, now.Location())
	if err != nil {
		return domain.RecordLogItem{}, err
	}
	item, err := s.fsrs.Next(card, now, grade)
	if err != nil {
		return domain.RecordLogItem{}, err
	}
	if err := s.save(p, item.Card); err != nil {
		return domain.RecordLogItem{}, err
	}
	if err := s.recordStreak(ctx, now); err != nil {
		s.logger.Warn("Failed to update review streak", "error", err)
	}
	s.logger.Info("Note reviewed",
		"path", p,
		"rating", grade,
		"next_due", item.Card.Due.Format(domain.DayLayout),
		"scheduled_days", item.Card.ScheduledDays,
	)
	return item, nil
}

// Streak returns the current run of review days as of now.
func (s *Scheduler) Streak(ctx context.Context, now time.Time) (domain.Streak, int, error) {
	streak, err := s.streak.LoadStreak(ctx)
	if err != nil {
		return domain.Streak{}, 0, err
	}
	return streak, streak.Current(now), nil
}

func (s *Scheduler) recordStreak(ctx context.Context, now time.Time) error {
	s.streakMu.Lock()
	defer s.streakMu.Unlock()

	streak, err := s.streak.LoadStreak(ctx)
	if err != nil {
		return err
	}
	next := streak.Record(now)
	if next == streak {
		return nil
	}
	return s.streak.SaveStreak(ctx, next)
}

func noteEntry(p string) domain.Entry {
	base := path.Base(p)
	return domain.Entry{
		Front:     strings.TrimSuffix(base, path.Ext(base)),
		Path:      p,
		EntryType: domain.Inline,
	}
}

func (s *Scheduler) save(p string, card domain.Card) error {
	return s.meta.WriteMeta(p, func(meta map[string]any) error {
		meta[KeyDue] = card.Due.Format(domain.DayLayout)
		meta[KeyState] = int(card.State)
		meta[KeyStability] = round4(card.Stability)
		meta[KeyDifficulty] = round4(card.Difficulty)
		meta[KeyElapsedDays] = card.ElapsedDays
		meta[KeyScheduledDays] = card.ScheduledDays
		meta[KeyReps] = card.Reps
		meta[KeyLapses] = card.Lapses
		meta[KeyLastReview] = ""
		if card.LastReview != nil {
			meta[KeyLastReview] = card.LastReview.UTC().Format(time.RFC3339)
		}
		meta[KeyInterval] = card.ScheduledDays
		return nil
	})
}

// loadCard rebuilds a card from frontmatter. Missing numeric fields read as
// zero, as a hand-edited note may drop them.
func loadCard(p string, meta map[string]any, loc *time.Location) (domain.Card, error) {
	if !IsTracked(meta) {
		return domain.Card{}, fmt.Errorf("%s: %w", p, ErrNotTracked)
	}
	due, err := dateValue(meta[KeyDue], loc)
	if err != nil {
		return domain.Card{}, fmt.Errorf("%s: invalid %s: %w", p, KeyDue, err)
	}
	card := domain.Card{
		Entry:         noteEntry(p),
		Due:           due,
		State:         domain.State(intValue(meta[KeyState])),
		Stability:     floatValue(meta[KeyStability]),
		Difficulty:    floatValue(meta[KeyDifficulty]),
		ElapsedDays:   intValue(meta[KeyElapsedDays]),
		ScheduledDays: intValue(meta[KeyScheduledDays]),
		Reps:          intValue(meta[KeyReps]),
		Lapses:        intValue(meta[KeyLapses]),
	}
	if card.State < domain.New || card.State > domain.Relearning {
		return domain.Card{}, fmt.Errorf("%s: invalid %s %d", p, KeyState, card.State)
	}
	if raw, ok := meta[KeyLastReview].(string); ok && strings.TrimSpace(raw) != "" {
		last, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.Card{}, fmt.Errorf("%s: invalid %s: %w", p, KeyLastReview, err)
		}
		card.LastReview = &last
	} else if last, ok := meta[KeyLastReview].(time.Time); ok {
		card.LastReview = &last
	}
	return card, nil
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func dateValue(v any, loc *time.Location) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc), nil
	case string:
		s := strings.TrimSpace(d)
		if len(s) > len(domain.DayLayout) {
			s = s[:len(domain.DayLayout)]
		}
		return time.ParseInLocation(domain.DayLayout, s, loc)
	default:
		return time.Time{}, fmt.Errorf("unexpected value %v", v)
	}
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	default:
		return 0
	}
}

func floatValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f
	default:
		return 0
	}
}
