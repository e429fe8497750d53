package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/recall/internal/deck"
	"github.com/conorfennell/recall/internal/notesched"
	"github.com/conorfennell/recall/internal/parser"
	"github.com/conorfennell/recall/internal/storage"
	"github.com/conorfennell/recall/internal/vault"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type testServer struct {
	*Server
	clock time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"bio/cells.md":   "Mitochondria :: powerhouse of the cell\n\nDNA :: deoxyribonucleic acid\n",
		"journal/day.md": "# Day\n\nWrote some code.\n",
	}
	for p, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}

	db, err := storage.Open(filepath.Join(t.TempDir(), "recall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	v, err := vault.New(root, vault.Options{MemoryDir: "SR"})
	require.NoError(t, err)

	ts := &testServer{clock: t0}
	now := func() time.Time { return ts.clock }
	decks, err := deck.NewManager(storage.NewManager(db, nil), v, deck.Options{
		Separators: parser.DefaultSeparators(),
		Now:        now,
	})
	require.NoError(t, err)
	notes := notesched.New(v, db, nil, notesched.Rules{}, nil)
	ts.Server = NewServer(decks, notes, Options{Now: now})
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestDeckLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	synced := decode[syncResp](t, rec)
	assert.Equal(t, 2, synced.Report.Created)
	assert.Nil(t, synced.Deck)

	rec = ts.do(t, http.MethodPost, "/decks", map[string]string{"name": "Bio", "rootPath": "bio/"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	added := decode[deckView](t, rec)
	assert.Equal(t, 2, added.Total)
	assert.Equal(t, 2, added.Due)
	assert.Equal(t, 2, added.States["New"])

	testCases := []struct {
		name string
		body map[string]string
		want int
	}{
		{name: "duplicate name", body: map[string]string{"name": "Bio", "rootPath": "other/"}, want: http.StatusConflict},
		{name: "duplicate root", body: map[string]string{"name": "Other", "rootPath": "bio/"}, want: http.StatusConflict},
		{name: "reserved name", body: map[string]string{"name": deck.AllCardsName, "rootPath": "x/"}, want: http.StatusConflict},
		{name: "blank name", body: map[string]string{"name": " ", "rootPath": "x/"}, want: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/decks", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}

	rec = ts.do(t, http.MethodGet, "/decks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]deckView](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, deck.AllCardsName, list[0].Name)
	assert.Equal(t, "Bio", list[1].Name)

	rec = ts.do(t, http.MethodPatch, "/decks/Bio", map[string]string{"name": "Biology"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "bio/", decode[deckView](t, rec).RootPath)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/decks/Bio", nil).Code)

	rec = ts.do(t, http.MethodGet, "/decks/Biology", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[deckView](t, rec).Cards, 2)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/decks/Biology", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/decks/Biology", nil).Code)
}

func TestSyncWantsDeck(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/sync", nil).Code)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/decks",
		map[string]string{"name": "Bio", "rootPath": "bio/"}).Code)

	rec := ts.do(t, http.MethodPost, "/sync?deck=Bio", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[syncResp](t, rec)
	require.NotNil(t, resp.Deck)
	assert.Equal(t, "Bio", resp.Deck.Name)
	assert.Equal(t, 0, resp.Report.Created)

	rec = ts.do(t, http.MethodPost, "/sync?deck=Missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewAndUndoCard(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/sync", nil).Code)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/decks",
		map[string]string{"name": "Bio", "rootPath": "bio/"}).Code)

	rec := ts.do(t, http.MethodGet, "/decks/Bio/next", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	next := decode[nextCardResp](t, rec)
	assert.Equal(t, 2, next.Due)
	assert.Len(t, next.Preview, 4)
	assert.Zero(t, next.Retrievability)
	id := next.Card.ID
	require.NotEmpty(t, id)

	badGrades := []any{0, "Manual", 7, "great", nil}
	for _, g := range badGrades {
		rec := ts.do(t, http.MethodPost, "/cards/"+id+"/review", map[string]any{"deck": "Bio", "grade": g})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "grade %v", g)
	}

	rec = ts.do(t, http.MethodPost, "/cards/ZZZZZZZZ/review", map[string]any{"grade": 3})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/cards/"+id+"/review", map[string]any{"deck": "Bio", "grade": "Good"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/decks/Bio/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[nextCardResp](t, rec).Due)

	rec = ts.do(t, http.MethodPost, "/cards/"+id+"/undo", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/cards/"+id+"/undo", nil).Code)
}

func TestNextCardNothingDue(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/sync", nil).Code)

	ts.clock = t0.Add(-time.Hour)
	rec := ts.do(t, http.MethodGet, "/decks/"+url.PathEscape(deck.AllCardsName)+"/next", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNoteReviews(t *testing.T) {
	ts := newTestServer(t)
	const note = "journal/day.md"
	status := "/notes/status?path=" + url.QueryEscape(note)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, status, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/notes/status", nil).Code)

	rec := ts.do(t, http.MethodPost, "/notes/track", map[string]string{"path": note})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-03-02", decode[notesched.ReviewData](t, rec).Due)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/notes/track", map[string]string{"path": note}).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/notes/track", map[string]string{"path": "nope.md"}).Code)

	rec = ts.do(t, http.MethodGet, "/notes/due", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]notesched.ReviewData](t, rec))

	ts.clock = t0.AddDate(0, 0, 1)
	rec = ts.do(t, http.MethodGet, "/notes/due", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	due := decode[[]notesched.ReviewData](t, rec)
	require.Len(t, due, 1)
	assert.Equal(t, note, due[0].Path)

	rec = ts.do(t, http.MethodPost, "/notes/review", map[string]any{"path": note, "grade": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[notesched.ReviewData](t, rec).Card.Reps)

	rec = ts.do(t, http.MethodGet, "/streak", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, streakResp{Count: 1, Current: 1, LastReviewDate: "2024-03-02"}, decode[streakResp](t, rec))
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)
	s := NewServer(ts.decks, ts.notes, Options{CORSOrigins: []string{"app://obsidian.md"}})

	req := httptest.NewRequest(http.MethodOptions, "/decks", nil)
	req.Header.Set("Origin", "app://obsidian.md")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, "app://obsidian.md", rec.Header().Get("Access-Control-Allow-Origin"))
}
