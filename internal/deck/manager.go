// Package deck reconciles the cards written in notes with their stored
// records and serves them to reviewers as decks.
package deck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/fsrs"
	"github.com/conorfennell/recall/internal/parser"
	"github.com/conorfennell/recall/internal/storage"
)

var (
	// ErrNothingToUndo is returned by Undo when a card has no reviews.
	ErrNothingToUndo = errors.New("card has no review to undo")
	// ErrNotInDeck is returned by Review when the card lies outside the deck.
	ErrNotInDeck = errors.New("card is not in deck")
)

// Notes is the part of the vault the sync engine reads and rewrites. Edit
// must keep other writers of the note out between its read and its write.
type Notes interface {
	Notes(ctx context.Context) ([]string, error)
	Edit(path string, fn func(content string) (string, error)) error
}

// Options configures a Manager.
type Options struct {
	Separators parser.Separators
	// Scheduler grades deck reviews. Defaults to fsrs.Basic().
	Scheduler *fsrs.FSRS
	// DryRun skips every record write. Note writes are up to the Notes
	// implementation.
	DryRun bool
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager owns the deck snapshots and runs syncs.
type Manager struct {
	memory    *storage.Manager
	notes     Notes
	extractor *parser.Extractor
	scheduler *fsrs.FSRS
	dryRun    bool
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	inflight *SyncOp
	order    []string
	decks    map[string]*Deck
}

// NewManager wires a Manager. No sync is run.
func NewManager(memory *storage.Manager, notes Notes, opts Options) (*Manager, error) {
	x, err := parser.New(opts.Separators)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		memory:    memory,
		notes:     notes,
		extractor: x,
		scheduler: opts.Scheduler,
		dryRun:    opts.DryRun,
		logger:    opts.Logger,
		now:       opts.Now,
		decks:     make(map[string]*Deck),
	}
	if m.scheduler == nil {
		m.scheduler = fsrs.Basic()
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// PopulateDecks rebuilds every snapshot from the stored records and the
// deck registry, plus the All Cards deck. A registry failure leaves the
// previous snapshots in place.
func (m *Manager) PopulateDecks(ctx context.Context) error {
	metas, err := m.memory.Decks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load decks: %w", err)
	}
	mems, err := m.memory.AllMemories(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cards: %w", err)
	}

	var cards []domain.Card
	for _, mem := range mems {
		if mem.IsShown {
			cards = append(cards, mem.Card)
		}
	}

	order := []string{AllCardsName}
	decks := map[string]*Deck{
		AllCardsName: newDeck(domain.DeckMetaData{Name: AllCardsName}, cards),
	}
	for _, meta := range metas {
		if _, dup := decks[meta.Name]; dup {
			m.logger.Warn("Ignoring deck with a reserved or repeated name", "deck", meta.Name)
			continue
		}
		order = append(order, meta.Name)
		decks[meta.Name] = newDeck(meta, cards)
	}

	m.mu.Lock()
	m.order, m.decks = order, decks
	m.mu.Unlock()
	return nil
}

// Decks returns the current snapshots, All Cards first and the rest in
// registry order.
func (m *Manager) Decks() []*Deck {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Deck, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.decks[name])
	}
	return out
}

// Deck returns the current snapshot of one deck.
func (m *Manager) Deck(name string) (*Deck, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decks[name]
	return d, ok
}

// ScheduleNext computes the outcome of grading card at now without storing
// anything.
func (m *Manager) ScheduleNext(card domain.Card, grade domain.Rating, now time.Time) (domain.RecordLogItem, error) {
	return m.scheduler.Next(card, now, grade)
}

// Preview returns the outcome of every grade for card at now.
func (m *Manager) Preview(card domain.Card, now time.Time) map[domain.Rating]domain.RecordLogItem {
	return m.scheduler.Repeat(card, now)
}

// Retrievability estimates the chance card is recalled at now.
func (m *Manager) Retrievability(card domain.Card, now time.Time) float64 {
	return m.scheduler.Retrievability(card, now)
}

// Review grades the stored card id, persists the result, and swaps in
// updated snapshots. When deckName is set, the card must belong to that deck.
func (m *Manager) Review(ctx context.Context, deckName, id string, grade domain.Rating, now time.Time) (domain.RecordLogItem, error) {
	var meta *domain.DeckMetaData
	if deckName != "" {
		d, ok := m.Deck(deckName)
		if !ok {
			return domain.RecordLogItem{}, fmt.Errorf("%q: %w", deckName, storage.ErrDeckNotFound)
		}
		dm := d.MetaData()
		meta = &dm
	}
	return m.UpdateCard(ctx, id, func(mem *domain.Memory) (domain.RecordLogItem, error) {
		if meta != nil && !meta.Contains(mem.Card.Path) {
			return domain.RecordLogItem{}, fmt.Errorf("card %s, deck %q: %w", id, deckName, ErrNotInDeck)
		}
		return m.ScheduleNext(mem.Card, grade, now)
	})
}

// UpdateCard lets fn compute a review of the stored card id, stores the card
// with its log, and substitutes new snapshots for the decks holding it. The
// record is read and written without any other card update in between.
func (m *Manager) UpdateCard(ctx context.Context, id string, fn func(*domain.Memory) (domain.RecordLogItem, error)) (domain.RecordLogItem, error) {
	var item domain.RecordLogItem
	if m.dryRun {
		mem, err := m.memory.ReadMemory(ctx, id)
		if err != nil {
			return domain.RecordLogItem{}, err
		}
		if item, err = fn(mem); err != nil {
			return domain.RecordLogItem{}, err
		}
	} else {
		var err error
		if item, err = m.memory.Review(ctx, id, fn); err != nil {
			return domain.RecordLogItem{}, err
		}
	}
	m.substitute(item.Card)
	m.logger.Info("Card reviewed",
		"id", item.Card.ID,
		"rating", item.Log.Rating,
		"state", item.Card.State,
		"due", item.Card.Due,
	)
	return item, nil
}

// Undo reverts the latest review of card id.
func (m *Manager) Undo(ctx context.Context, id string) (domain.Card, error) {
	rollback := func(mem *domain.Memory) (domain.Card, error) {
		if len(mem.ReviewLogs) == 0 {
			return domain.Card{}, fmt.Errorf("%s: %w", id, ErrNothingToUndo)
		}
		return fsrs.Rollback(mem.Card, mem.ReviewLogs[0])
	}

	var card domain.Card
	if m.dryRun {
		mem, err := m.memory.ReadMemory(ctx, id)
		if err != nil {
			return domain.Card{}, err
		}
		if card, err = rollback(mem); err != nil {
			return domain.Card{}, err
		}
	} else {
		var err error
		if card, err = m.memory.UndoReview(ctx, id, rollback); err != nil {
			return domain.Card{}, err
		}
	}
	m.substitute(card)
	return card, nil
}

func (m *Manager) substitute(card domain.Card) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, d := range m.decks {
		m.decks[name] = d.withCard(card)
	}
}

// AddDeck registers a deck and rebuilds the snapshots.
func (m *Manager) AddDeck(ctx context.Context, meta domain.DeckMetaData) error {
	if err := m.checkReserved(meta.Name); err != nil {
		return err
	}
	if err := m.memory.AddDeck(ctx, meta); err != nil {
		return err
	}
	return m.PopulateDecks(ctx)
}

// RenameDeck renames a deck and rebuilds the snapshots.
func (m *Manager) RenameDeck(ctx context.Context, oldName, newName string) error {
	if err := m.checkReserved(newName); err != nil {
		return err
	}
	if err := m.memory.RenameDeck(ctx, oldName, newName); err != nil {
		return err
	}
	return m.PopulateDecks(ctx)
}

// ModifyDeck changes a deck's name and root path and rebuilds the snapshots.
func (m *Manager) ModifyDeck(ctx context.Context, name string, meta domain.DeckMetaData) error {
	if err := m.checkReserved(meta.Name); err != nil {
		return err
	}
	if err := m.memory.ModifyDeck(ctx, name, meta); err != nil {
		return err
	}
	return m.PopulateDecks(ctx)
}

// DeleteDeck removes a deck from the registry. Its cards stay in the store
// and in All Cards.
func (m *Manager) DeleteDeck(ctx context.Context, name string) error {
	if err := m.memory.DeleteDeck(ctx, name); err != nil {
		return err
	}
	return m.PopulateDecks(ctx)
}

func (m *Manager) checkReserved(name string) error {
	if strings.TrimSpace(name) == AllCardsName {
		return fmt.Errorf("%q is reserved: %w", name, storage.ErrDuplicateDeck)
	}
	return nil
}
