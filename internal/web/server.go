// Package web serves decks and note reviews over a JSON HTTP API.
package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/recall/internal/deck"
	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/fsrs"
	"github.com/conorfennell/recall/internal/notesched"
	"github.com/conorfennell/recall/internal/storage"
)

// Options configures a Server.
type Options struct {
	// CORSOrigins lists the origins allowed to call the API from a browser.
	CORSOrigins []string
	Logger      *slog.Logger
	Now         func() time.Time
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	decks  *deck.Manager
	notes  *notesched.Scheduler
	router chi.Router
	logger *slog.Logger
	now    func() time.Time
}

// NewServer creates and configures a new server.
func NewServer(decks *deck.Manager, notes *notesched.Scheduler, opts Options) *Server {
	s := &Server{
		decks:  decks,
		notes:  notes,
		router: chi.NewRouter(),
		logger: opts.Logger,
		now:    opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.routes(opts.CORSOrigins)
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(origins []string) {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/decks", func(r chi.Router) {
		r.Get("/", s.handleListDecks())
		r.Post("/", s.handleAddDeck())
		r.Get("/{name}", s.handleGetDeck())
		r.Patch("/{name}", s.handleModifyDeck())
		r.Delete("/{name}", s.handleDeleteDeck())
		r.Get("/{name}/next", s.handleNextCard())
	})
	r.Post("/cards/{id}/review", s.handleReviewCard())
	r.Post("/cards/{id}/undo", s.handleUndoCard())
	r.Post("/sync", s.handleSync())

	r.Route("/notes", func(r chi.Router) {
		r.Get("/due", s.handleDueNotes())
		r.Get("/status", s.handleNoteStatus())
		r.Post("/track", s.handleTrackNote())
		r.Post("/review", s.handleReviewNote())
	})
	r.Get("/streak", s.handleStreak())
}

type deckView struct {
	Name     string         `json:"name"`
	RootPath string         `json:"rootPath"`
	Total    int            `json:"total"`
	Due      int            `json:"due"`
	States   map[string]int `json:"states"`
	Cards    []domain.Card  `json:"cards,omitempty"`
}

func (s *Server) viewDeck(d *deck.Deck, withCards bool) deckView {
	meta := d.MetaData()
	states := make(map[string]int)
	for state, n := range d.CountForStates() {
		states[state.String()] = n
	}
	v := deckView{
		Name:     meta.Name,
		RootPath: meta.RootPath,
		Total:    d.Len(),
		Due:      len(d.Due(s.now())),
		States:   states,
	}
	if withCards {
		v.Cards = d.Cards()
	}
	return v
}

func (s *Server) handleListDecks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decks := s.decks.Decks()
		views := make([]deckView, 0, len(decks))
		for _, d := range decks {
			views = append(views, s.viewDeck(d, false))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func (s *Server) handleGetDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := s.decks.Deck(chi.URLParam(r, "name"))
		if !ok {
			http.Error(w, "deck not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, s.viewDeck(d, true))
	}
}

func (s *Server) handleAddDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var meta domain.DeckMetaData
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := s.decks.AddDeck(r.Context(), meta); err != nil {
			s.writeError(w, r, err)
			return
		}
		d, ok := s.decks.Deck(strings.TrimSpace(meta.Name))
		if !ok {
			writeJSON(w, http.StatusCreated, meta)
			return
		}
		writeJSON(w, http.StatusCreated, s.viewDeck(d, false))
	}
}

type modifyDeckReq struct {
	Name     *string `json:"name"`
	RootPath *string `json:"rootPath"`
}

// handleModifyDeck renames a deck, moves its root path, or both. Fields
// left out keep their value.
func (s *Server) handleModifyDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		var req modifyDeckReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		d, ok := s.decks.Deck(name)
		if !ok || name == deck.AllCardsName {
			http.Error(w, "deck not found", http.StatusNotFound)
			return
		}
		meta := d.MetaData()
		if req.Name != nil {
			meta.Name = *req.Name
		}
		if req.RootPath != nil {
			meta.RootPath = *req.RootPath
		}
		if err := s.decks.ModifyDeck(r.Context(), name, meta); err != nil {
			s.writeError(w, r, err)
			return
		}
		updated, ok := s.decks.Deck(strings.TrimSpace(meta.Name))
		if !ok {
			writeJSON(w, http.StatusOK, meta)
			return
		}
		writeJSON(w, http.StatusOK, s.viewDeck(updated, false))
	}
}

func (s *Server) handleDeleteDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.decks.DeleteDeck(r.Context(), chi.URLParam(r, "name")); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type nextCardResp struct {
	Card           domain.Card    `json:"card"`
	Preview        map[string]int `json:"preview"`
	Due            int            `json:"due"`
	Retrievability float64        `json:"retrievability"`
}

// handleNextCard returns the first due card of a deck with the interval,
// in days, each grade would give it. 204 when nothing is due.
func (s *Server) handleNextCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := s.decks.Deck(chi.URLParam(r, "name"))
		if !ok {
			http.Error(w, "deck not found", http.StatusNotFound)
			return
		}
		now := s.now()
		card, ok := d.Next(now)
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		preview := make(map[string]int, len(domain.Grades))
		for grade, item := range s.decks.Preview(card, now) {
			preview[grade.String()] = item.Card.ScheduledDays
		}
		writeJSON(w, http.StatusOK, nextCardResp{
			Card:           card,
			Preview:        preview,
			Due:            len(d.Due(now)),
			Retrievability: s.decks.Retrievability(card, now),
		})
	}
}

type reviewCardReq struct {
	Deck  string          `json:"deck"`
	Grade json.RawMessage `json:"grade"`
}

func (s *Server) handleReviewCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewCardReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		grade, err := parseGrade(req.Grade)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		item, err := s.decks.Review(r.Context(), req.Deck, chi.URLParam(r, "id"), grade, s.now())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (s *Server) handleUndoCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		card, err := s.decks.Undo(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, card)
	}
}

type syncResp struct {
	Report deck.SyncReport `json:"report"`
	Deck   *deckView       `json:"deck,omitempty"`
}

// handleSync runs a sync, or joins the one in flight. With ?deck= the
// refreshed deck is returned with the report.
func (s *Server) handleSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op := s.decks.StartSync(r.Context())
		if name := r.URL.Query().Get("deck"); name != "" {
			op.Want(name)
		}
		d, err := op.Wait(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp := syncResp{Report: op.Report()}
		if d != nil {
			v := s.viewDeck(d, true)
			resp.Deck = &v
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleDueNotes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		due, err := s.notes.DueNotes(r.Context(), s.now())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if due == nil {
			due = []notesched.ReviewData{}
		}
		writeJSON(w, http.StatusOK, due)
	}
}

func (s *Server) handleNoteStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			http.Error(w, "path required", http.StatusBadRequest)
			return
		}
		data, err := s.notes.ReviewData(path)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, data)
	}
}

type noteReq struct {
	Path  string          `json:"path"`
	Grade json.RawMessage `json:"grade,omitempty"`
}

func (s *Server) handleTrackNote() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req noteReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Path) == "" {
			http.Error(w, "path required", http.StatusBadRequest)
			return
		}
		if _, err := s.notes.Track(r.Context(), req.Path, s.now()); err != nil {
			s.writeError(w, r, err)
			return
		}
		data, err := s.notes.ReviewData(req.Path)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, data)
	}
}

func (s *Server) handleReviewNote() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req noteReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Path) == "" {
			http.Error(w, "path required", http.StatusBadRequest)
			return
		}
		grade, err := parseGrade(req.Grade)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := s.notes.Review(r.Context(), req.Path, grade, s.now()); err != nil {
			s.writeError(w, r, err)
			return
		}
		data, err := s.notes.ReviewData(req.Path)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, data)
	}
}

type streakResp struct {
	Count          int    `json:"count"`
	Current        int    `json:"current"`
	LastReviewDate string `json:"lastReviewDate,omitempty"`
}

func (s *Server) handleStreak() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streak, current, err := s.notes.Streak(r.Context(), s.now())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, streakResp{
			Count:          streak.Count,
			Current:        current,
			LastReviewDate: streak.LastReviewDate,
		})
	}
}

// parseGrade accepts a grade as a number (3) or a name ("Good").
func parseGrade(raw json.RawMessage) (domain.Rating, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, errors.New("grade required")
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = unquoted
	}
	grade, err := domain.ParseRating(text)
	if err != nil {
		return 0, err
	}
	if !grade.IsGrade() {
		return 0, errors.New("grade must be Again, Hard, Good or Easy")
	}
	return grade, nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid validator.ValidationErrors
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrDuplicateDeck), errors.Is(err, notesched.ErrAlreadyTracked),
		errors.Is(err, deck.ErrNothingToUndo):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrDeckNotFound),
		errors.Is(err, notesched.ErrNotTracked), errors.Is(err, fs.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, fsrs.ErrInvalidGrade), errors.Is(err, notesched.ErrExcluded),
		errors.Is(err, deck.ErrNotInDeck), errors.As(err, &invalid):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()), "error", err)
		http.Error(w, "Internal Server Error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
