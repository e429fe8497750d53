package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/conorfennell/recall/internal/domain"
)

// Manager is the memory manager: record and deck operations on top of a
// Store. Read-modify-write sequences are serialized, so a review landing in
// the middle of a sync cannot lose either write.
type Manager struct {
	store  Store
	logger *slog.Logger
	mu     sync.Mutex
}

// NewManager wraps store. A nil logger discards warnings.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{store: store, logger: logger}
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// ReadMemory loads one record.
func (m *Manager) ReadMemory(ctx context.Context, id string) (*domain.Memory, error) {
	return m.store.Get(ctx, id)
}

// WriteMemory stores a record as is.
func (m *Manager) WriteMemory(ctx context.Context, mem *domain.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Put(ctx, mem)
}

// CreateMemory stores a fresh record for card.
func (m *Manager) CreateMemory(ctx context.Context, card domain.Card, isShown bool) (*domain.Memory, error) {
	mem, err := domain.NewMemory(card, isShown)
	if err != nil {
		return nil, err
	}
	if err := m.WriteMemory(ctx, mem); err != nil {
		return nil, err
	}
	return mem, nil
}

// Review reads record id, lets fn grade its card, and stores the card and
// log fn returns in a single write. The read and the write happen under the
// manager's lock, so two reviews of one card apply one after the other. fn
// must not modify the record it is given.
func (m *Manager) Review(ctx context.Context, id string, fn func(*domain.Memory) (domain.RecordLogItem, error)) (domain.RecordLogItem, error) {
	var item domain.RecordLogItem
	err := m.modify(ctx, id, func(mem *domain.Memory) (bool, error) {
		var err error
		if item, err = fn(mem); err != nil {
			return false, err
		}
		mem.Card = item.Card
		mem.ReviewLogs = append([]domain.ReviewLog{item.Log}, mem.ReviewLogs...)
		return true, nil
	})
	return item, err
}

// UndoReview reads record id, lets fn compute the card as it was before the
// newest review, then stores that card and drops the newest log, all under
// the manager's lock.
func (m *Manager) UndoReview(ctx context.Context, id string, fn func(*domain.Memory) (domain.Card, error)) (domain.Card, error) {
	var card domain.Card
	err := m.modify(ctx, id, func(mem *domain.Memory) (bool, error) {
		var err error
		if card, err = fn(mem); err != nil {
			return false, err
		}
		mem.Card = card
		if len(mem.ReviewLogs) > 0 {
			mem.ReviewLogs = mem.ReviewLogs[1:]
		}
		return true, nil
	})
	return card, err
}

// UpdateMemoryContent copies the text of content into the record and sets
// its visibility. Either argument may be nil to leave that part alone. The
// record is only written when something changed; changed reports whether it
// was.
func (m *Manager) UpdateMemoryContent(ctx context.Context, id string, content *domain.Entry, isShown *bool) (changed bool, err error) {
	if content == nil && isShown == nil {
		return false, nil
	}
	err = m.modify(ctx, id, func(mem *domain.Memory) (bool, error) {
		if content != nil && (mem.Card.Front != content.Front ||
			mem.Card.Back != content.Back ||
			mem.Card.Path != content.Path ||
			mem.Card.EntryType != content.EntryType) {
			mem.Card.Front = content.Front
			mem.Card.Back = content.Back
			mem.Card.Path = content.Path
			mem.Card.EntryType = content.EntryType
			changed = true
		}
		if isShown != nil && mem.IsShown != *isShown {
			mem.IsShown = *isShown
			changed = true
		}
		return changed, nil
	})
	return changed, err
}

func (m *Manager) modify(ctx context.Context, id string, fn func(*domain.Memory) (bool, error)) error {
	if id == "" {
		return errors.New("card must have an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	write, err := fn(mem)
	if err != nil || !write {
		return err
	}
	return m.store.Put(ctx, mem)
}

// AllMemories loads every record. Corrupt records are skipped with a warning
// naming them; only a failure to list the store is returned.
func (m *Manager) AllMemories(ctx context.Context) ([]*domain.Memory, error) {
	ids, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	mems := make([]*domain.Memory, 0, len(ids))
	for _, id := range ids {
		mem, err := m.store.Get(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			m.logger.Warn("Skipping unreadable memory record", "id", id, "error", err)
			continue
		}
		mems = append(mems, mem)
	}
	return mems, nil
}

// Decks returns the deck registry.
func (m *Manager) Decks(ctx context.Context) ([]domain.DeckMetaData, error) {
	return m.store.LoadDecks(ctx)
}

// AddDeck registers a deck. Its name and root path must both be unused.
func (m *Manager) AddDeck(ctx context.Context, deck domain.DeckMetaData) error {
	if err := deck.Validate(); err != nil {
		return fmt.Errorf("cannot add deck: %w", err)
	}
	return m.editDecks(ctx, func(decks []domain.DeckMetaData) ([]domain.DeckMetaData, error) {
		if i := findDuplicate(decks, deck, -1); i >= 0 {
			return nil, fmt.Errorf("cannot add deck %q: %w", deck.Name, ErrDuplicateDeck)
		}
		return append(decks, deck), nil
	})
}

// DeleteDeck removes a deck from the registry. Cards are not touched.
func (m *Manager) DeleteDeck(ctx context.Context, name string) error {
	return m.editDecks(ctx, func(decks []domain.DeckMetaData) ([]domain.DeckMetaData, error) {
		i := findDeck(decks, name)
		if i < 0 {
			return nil, fmt.Errorf("cannot delete deck %q: %w", name, ErrDeckNotFound)
		}
		return append(decks[:i:i], decks[i+1:]...), nil
	})
}

// RenameDeck changes a deck's name.
func (m *Manager) RenameDeck(ctx context.Context, oldName, newName string) error {
	return m.editDecks(ctx, func(decks []domain.DeckMetaData) ([]domain.DeckMetaData, error) {
		i := findDeck(decks, oldName)
		if i < 0 {
			return nil, fmt.Errorf("cannot rename deck %q: %w", oldName, ErrDeckNotFound)
		}
		renamed := domain.DeckMetaData{Name: newName, RootPath: decks[i].RootPath}
		if err := renamed.Validate(); err != nil {
			return nil, fmt.Errorf("cannot rename deck %q: %w", oldName, err)
		}
		if findDuplicate(decks, renamed, i) >= 0 {
			return nil, fmt.Errorf("cannot rename deck %q to %q: %w", oldName, newName, ErrDuplicateDeck)
		}
		decks[i] = renamed
		return decks, nil
	})
}

// ModifyDeck replaces the name and root path of the deck called name.
func (m *Manager) ModifyDeck(ctx context.Context, name string, updated domain.DeckMetaData) error {
	if err := updated.Validate(); err != nil {
		return fmt.Errorf("cannot modify deck %q: %w", name, err)
	}
	return m.editDecks(ctx, func(decks []domain.DeckMetaData) ([]domain.DeckMetaData, error) {
		i := findDeck(decks, name)
		if i < 0 {
			return nil, fmt.Errorf("cannot modify deck %q: %w", name, ErrDeckNotFound)
		}
		if findDuplicate(decks, updated, i) >= 0 {
			return nil, fmt.Errorf("cannot modify deck %q: %w", name, ErrDuplicateDeck)
		}
		decks[i] = updated
		return decks, nil
	})
}

// editDecks loads the registry, applies fn and saves the result. Nothing is
// written when fn fails.
func (m *Manager) editDecks(ctx context.Context, fn func([]domain.DeckMetaData) ([]domain.DeckMetaData, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	decks, err := m.store.LoadDecks(ctx)
	if err != nil {
		return err
	}
	decks, err = fn(decks)
	if err != nil {
		return err
	}
	return m.store.SaveDecks(ctx, decks)
}

func findDeck(decks []domain.DeckMetaData, name string) int {
	for i, d := range decks {
		if d.Name == strings.TrimSpace(name) {
			return i
		}
	}
	return -1
}

// findDuplicate returns the index of a deck other than skip that shares
// candidate's name or root path.
func findDuplicate(decks []domain.DeckMetaData, candidate domain.DeckMetaData, skip int) int {
	for i, d := range decks {
		if i == skip {
			continue
		}
		if d.Name == candidate.Name || d.RootPath == candidate.RootPath {
			return i
		}
	}
	return -1
}
