package domain

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CorruptionWarning is written into every persisted document so that people
// browsing the memory directory know not to edit it by hand.
const CorruptionWarning = "Do not edit this file by hand. Changes may corrupt your review history."

// Memory is the durable unit of the card store: one per tracked fact.
// IsShown is false when the card's text was missing on the last sync; the
// record is kept so the history survives if the fact reappears.
type Memory struct {
	Comment    string      `json:"comment,omitempty"`
	ID         string      `json:"id"`
	IsShown    bool        `json:"isShown"`
	Card       Card        `json:"card"`
	ReviewLogs []ReviewLog `json:"reviewLogs"`
}

// NewMemory wraps a card in a fresh record with no history.
func NewMemory(card Card, isShown bool) (*Memory, error) {
	if card.ID == "" {
		return nil, errors.New("card must have an id")
	}
	return &Memory{
		Comment:    CorruptionWarning,
		ID:         card.ID,
		IsShown:    isShown,
		Card:       card,
		ReviewLogs: []ReviewLog{},
	}, nil
}

// DeckMetaData names a deck. The deck itself is every shown card whose path
// starts with RootPath.
type DeckMetaData struct {
	Name     string `json:"name" validate:"required"`
	RootPath string `json:"rootPath" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate trims the fields and checks that both are present.
func (m *DeckMetaData) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	m.RootPath = strings.TrimSpace(m.RootPath)
	return validate.Struct(m)
}

// Contains reports whether a card at path belongs to the deck.
func (m DeckMetaData) Contains(path string) bool {
	return strings.HasPrefix(path, m.RootPath)
}
