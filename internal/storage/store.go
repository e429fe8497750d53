package storage

import (
	"context"
	"errors"

	"github.com/conorfennell/recall/internal/domain"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("memory record not found")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("memory record is corrupt")
	// ErrRegistry is returned when the deck registry is missing or unreadable.
	ErrRegistry = errors.New("deck registry unavailable")
	// ErrDuplicateDeck is returned when a deck name or root path is taken.
	ErrDuplicateDeck = errors.New("a deck with the same name or path already exists")
	// ErrDeckNotFound is returned when no deck has the requested name.
	ErrDeckNotFound = errors.New("deck not found")
)

// Store persists memory records by id, plus the deck registry and the review
// streak. Each call is independent: there are no cross-record transactions.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Memory, error)
	Put(ctx context.Context, m *domain.Memory) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error

	LoadDecks(ctx context.Context) ([]domain.DeckMetaData, error)
	SaveDecks(ctx context.Context, decks []domain.DeckMetaData) error

	LoadStreak(ctx context.Context) (domain.Streak, error)
	SaveStreak(ctx context.Context, s domain.Streak) error

	Close() error
}

// registryDoc is the JSON shape of the deck registry.
type registryDoc struct {
	Comment string                `json:"comment,omitempty"`
	Decks   []domain.DeckMetaData `json:"decks"`
}

type statsDoc struct {
	Comment string        `json:"comment,omitempty"`
	Streak  domain.Streak `json:"streak"`
}
