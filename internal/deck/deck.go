package deck

import (
	"sort"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

// AllCardsName is the synthetic deck holding every shown card.
const AllCardsName = "All Cards"

// Deck is a snapshot of the cards under a root path, ordered by due date.
// A Deck is never changed after it is built; updates produce a new Deck.
type Deck struct {
	meta  domain.DeckMetaData
	cards []domain.Card
}

func newDeck(meta domain.DeckMetaData, cards []domain.Card) *Deck {
	sorted := make([]domain.Card, 0, len(cards))
	for _, c := range cards {
		if meta.Contains(c.Path) {
			sorted = append(sorted, c.Clone())
		}
	}
	sortByDue(sorted)
	return &Deck{meta: meta, cards: sorted}
}

func sortByDue(cards []domain.Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		if !cards[i].Due.Equal(cards[j].Due) {
			return cards[i].Due.Before(cards[j].Due)
		}
		return cards[i].ID < cards[j].ID
	})
}

// MetaData returns the deck's name and root path.
func (d *Deck) MetaData() domain.DeckMetaData {
	return d.meta
}

// Name returns the deck's name.
func (d *Deck) Name() string {
	return d.meta.Name
}

// Len is the number of cards in the deck.
func (d *Deck) Len() int {
	return len(d.cards)
}

// Cards returns a copy of the deck's cards, earliest due first.
func (d *Deck) Cards() []domain.Card {
	out := make([]domain.Card, len(d.cards))
	for i, c := range d.cards {
		out[i] = c.Clone()
	}
	return out
}

// Card looks up a card by id.
func (d *Deck) Card(id string) (domain.Card, bool) {
	for _, c := range d.cards {
		if c.ID == id {
			return c.Clone(), true
		}
	}
	return domain.Card{}, false
}

// CountForStates tallies the deck's cards by state.
func (d *Deck) CountForStates() map[domain.State]int {
	counts := map[domain.State]int{
		domain.New:        0,
		domain.Learning:   0,
		domain.Review:     0,
		domain.Relearning: 0,
	}
	for _, c := range d.cards {
		counts[c.State]++
	}
	return counts
}

// Due returns the cards due at or before now, earliest first.
func (d *Deck) Due(now time.Time) []domain.Card {
	var due []domain.Card
	for _, c := range d.cards {
		if c.Due.After(now) {
			break
		}
		due = append(due, c.Clone())
	}
	return due
}

// Next returns the earliest due card, if any is due at now.
func (d *Deck) Next(now time.Time) (domain.Card, bool) {
	if len(d.cards) == 0 || d.cards[0].Due.After(now) {
		return domain.Card{}, false
	}
	return d.cards[0].Clone(), true
}

// withCard returns a new snapshot where card replaces the card with the same
// id. The receiver is returned unchanged when it does not hold that card.
func (d *Deck) withCard(card domain.Card) *Deck {
	idx := -1
	for i, c := range d.cards {
		if c.ID == card.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return d
	}
	cards := make([]domain.Card, len(d.cards))
	copy(cards, d.cards)
	cards[idx] = card.Clone()
	sortByDue(cards)
	return &Deck{meta: d.meta, cards: cards}
}
