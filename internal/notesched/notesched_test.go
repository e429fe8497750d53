package notesched

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/storage"
	"github.com/conorfennell/recall/internal/vault"
)

var day0 = time.Date(2024, 3, 1, 21, 30, 0, 0, time.UTC)

func newScheduler(t *testing.T, files map[string]string, rules Rules) (*Scheduler, *vault.Vault, *storage.FileStore) {
	t.Helper()
	root := t.TempDir()
	for p, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	v, err := vault.New(root, vault.Options{MemoryDir: "SR"})
	require.NoError(t, err)
	store, err := storage.NewFileStore(root, "SR")
	require.NoError(t, err)
	return New(v, store, nil, rules, nil), v, store
}

func TestTrackSchedulesTomorrow(t *testing.T) {
	s, v, _ := newScheduler(t, map[string]string{"topics/go.md": "# Go\n\nGoroutines.\n"}, Rules{})
	ctx := context.Background()

	card, err := s.Track(ctx, "topics/go.md", day0)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02", card.Due.Format(domain.DayLayout))
	assert.Equal(t, 1, card.ScheduledDays)
	assert.Equal(t, domain.New, card.State)

	meta, err := v.ReadMeta("topics/go.md")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02", meta[KeyDue])
	assert.Equal(t, 1, meta[KeyInterval])
	assert.Equal(t, "", meta[KeyLastReview])

	content, err := v.Read("topics/go.md")
	require.NoError(t, err)
	assert.Contains(t, content, "---\n# Go\n\nGoroutines.\n")

	tracked, err := s.IsTracked("topics/go.md")
	require.NoError(t, err)
	assert.True(t, tracked)

	_, err = s.Track(ctx, "topics/go.md", day0)
	assert.ErrorIs(t, err, ErrAlreadyTracked)
}

func TestTrackRespectsExclusions(t *testing.T) {
	files := map[string]string{
		"private/diary.md": "x",
		"work/plan.md":     "x",
		"flagged.md":       "---\nsr-exclude: true\n---\nx",
		"topics/a.md":      "x",
	}
	s, _, _ := newScheduler(t, files, Rules{
		ExcludedPaths: []string{"private/"},
		IncludedPaths: []string{"topics/", "flagged.md", "private/"},
	})
	ctx := context.Background()

	for _, p := range []string{"private/diary.md", "work/plan.md", "flagged.md"} {
		_, err := s.Track(ctx, p, day0)
		assert.ErrorIs(t, err, ErrExcluded, p)
	}
	_, err := s.Track(ctx, "topics/a.md", day0)
	assert.NoError(t, err)
}

func TestAutoTrack(t *testing.T) {
	files := map[string]string{"a.md": "x", "skip/b.md": "x"}

	s, _, _ := newScheduler(t, files, Rules{})
	tracked, err := s.AutoTrack(context.Background(), "a.md", day0)
	require.NoError(t, err)
	assert.False(t, tracked, "auto-tracking is off")

	s, _, _ = newScheduler(t, files, Rules{AutoTrack: true, ExcludedPaths: []string{"skip/"}})
	tracked, err = s.AutoTrack(context.Background(), "a.md", day0)
	require.NoError(t, err)
	assert.True(t, tracked)

	tracked, err = s.AutoTrack(context.Background(), "a.md", day0)
	require.NoError(t, err)
	assert.False(t, tracked, "already tracked")

	tracked, err = s.AutoTrack(context.Background(), "skip/b.md", day0)
	require.NoError(t, err)
	assert.False(t, tracked, "excluded")
}

func TestReviewDataNotTracked(t *testing.T) {
	s, _, _ := newScheduler(t, map[string]string{"a.md": "---\ntitle: A\n---\nbody"}, Rules{})

	_, err := s.ReviewData("a.md")
	assert.ErrorIs(t, err, ErrNotTracked)

	_, err = s.Review(context.Background(), "a.md", domain.Good, day0)
	assert.ErrorIs(t, err, ErrNotTracked)
}

func TestDueNotesComparesDates(t *testing.T) {
	files := map[string]string{
		"today.md":     "---\nsr-due: 2024-03-05\nsr-state: 2\nsr-interval: 3\nsr-difficulty: 4.5\n---\n",
		"past.md":      "---\nsr-due: \"2024-02-01\"\n---\n",
		"future.md":    "---\nsr-due: 2024-03-06\n---\n",
		"untracked.md": "---\ntitle: x\n---\n",
		"excluded.md":  "---\nsr-due: 2024-01-01\nsr-exclude: true\n---\n",
		"broken.md":    "---\nsr-due: [\n---\n",
	}
	s, _, _ := newScheduler(t, files, Rules{})

	// Late in the evening of the due day still counts.
	due, err := s.DueNotes(context.Background(), time.Date(2024, 3, 5, 23, 59, 0, 0, time.UTC))
	require.NoError(t, err)

	var paths []string
	for _, d := range due {
		paths = append(paths, d.Path)
	}
	assert.Equal(t, []string{"past.md", "today.md"}, paths)

	today := due[1]
	assert.Equal(t, "2024-03-05", today.Due)
	assert.Equal(t, 3, today.Interval)
	assert.Equal(t, 4.5, today.Difficulty)
	assert.Equal(t, "Review", today.State)
}

func TestReviewWritesSchedule(t *testing.T) {
	s, v, _ := newScheduler(t, map[string]string{"n.md": "---\ntags: [go]\n---\nbody\n"}, Rules{})
	ctx := context.Background()

	_, err := s.Track(ctx, "n.md", day0)
	require.NoError(t, err)

	reviewAt := day0.AddDate(0, 0, 1)
	item, err := s.Review(ctx, "n.md", domain.Good, reviewAt)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Card.Reps)

	meta, err := v.ReadMeta("n.md")
	require.NoError(t, err)
	assert.Equal(t, []any{"go"}, meta["tags"])
	assert.Equal(t, item.Card.Due.Format(domain.DayLayout), meta[KeyDue])
	assert.Equal(t, int(item.Card.State), meta[KeyState])
	assert.Equal(t, 1, meta[KeyReps])
	assert.Equal(t, reviewAt.Format(time.RFC3339), meta[KeyLastReview])
	assert.InDelta(t, item.Card.Stability, floatValue(meta[KeyStability]), 0.00005)
	assert.InDelta(t, item.Card.Difficulty, floatValue(meta[KeyDifficulty]), 0.00005)

	data, err := s.ReviewData("n.md")
	require.NoError(t, err)
	assert.Equal(t, item.Card.State.String(), data.State)
	require.NotNil(t, data.Card.LastReview)
	assert.True(t, data.Card.LastReview.Equal(reviewAt))

	_, err = s.Review(ctx, "n.md", domain.Manual, reviewAt)
	assert.Error(t, err)
}

func TestReviewUpdatesStreak(t *testing.T) {
	s, _, store := newScheduler(t, map[string]string{"a.md": "x", "b.md": "y"}, Rules{})
	ctx := context.Background()
	for _, p := range []string{"a.md", "b.md"} {
		_, err := s.Track(ctx, p, day0)
		require.NoError(t, err)
	}

	review := func(p string, at time.Time) {
		t.Helper()
		_, err := s.Review(ctx, p, domain.Good, at)
		require.NoError(t, err)
	}

	d1 := day0.AddDate(0, 0, 1)
	review("a.md", d1)
	review("b.md", d1.Add(time.Hour))
	streak, current, err := s.Streak(ctx, d1)
	require.NoError(t, err)
	assert.Equal(t, 1, streak.Count, "same day counts once")
	assert.Equal(t, 1, current)

	review("a.md", d1.AddDate(0, 0, 1))
	streak, err = store.LoadStreak(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, streak.Count)

	_, current, err = s.Streak(ctx, d1.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, current, "a missed day ends the streak")

	review("b.md", d1.AddDate(0, 0, 5))
	streak, err = store.LoadStreak(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Streak{Count: 1, LastReviewDate: "2024-03-07"}, streak)
}

func TestLoadCardCoercesValues(t *testing.T) {
	meta := map[string]any{
		KeyDue:        "2024-03-05T00:00:00.000Z",
		KeyState:      "2",
		KeyStability:  7,
		KeyDifficulty: "5.25",
		KeyReps:       float64(4),
	}
	card, err := loadCard("n.md", meta, time.UTC)
	require.NoError(t, err)
	assert.True(t, card.Due.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)), card.Due)
	assert.Equal(t, domain.Review, card.State)
	assert.Equal(t, 7.0, card.Stability)
	assert.Equal(t, 5.25, card.Difficulty)
	assert.Equal(t, 4, card.Reps)
	assert.Nil(t, card.LastReview)

	meta[KeyState] = 9
	_, err = loadCard("n.md", meta, time.UTC)
	assert.Error(t, err)

	meta[KeyState] = 2
	meta[KeyDue] = "soon"
	_, err = loadCard("n.md", meta, time.UTC)
	assert.Error(t, err)
}
