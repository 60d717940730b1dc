// Package queue selects and orders the cards for one study session.
package queue

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/conorfennell/cardbox/internal/domain"
)

// Order values for the per-group ordering settings.
const (
	OrderRandom   = "random"
	OrderNatural  = "ordered"
	OrderDueFirst = "due-first"
)

// Settings are the queue-shaping knobs, snapshotted at session start.
type Settings struct {
	NewCardsPerDay    int    `koanf:"new_cards_per_day" validate:"gte=0"`
	MaxReviewsPerDay  int    `koanf:"max_reviews_per_day" validate:"gte=0"`
	NewCardOrder      string `koanf:"new_card_order" validate:"oneof=random ordered"`
	ReviewOrder       string `koanf:"review_order" validate:"oneof=random due-first"`
	MixNewWithReviews bool   `koanf:"mix_new_with_reviews"`
}

// DefaultSettings mirrors the stock daily limits.
func DefaultSettings() Settings {
	return Settings{
		NewCardsPerDay:    20,
		MaxReviewsPerDay:  100,
		NewCardOrder:      OrderRandom,
		ReviewOrder:       OrderDueFirst,
		MixNewWithReviews: true,
	}
}

// CardSource provides the eligible cards for a deck. Implementations
// must already exclude suspended and buried cards and enforce the
// given limit.
type CardSource interface {
	DueCards(deckID int64, now time.Time, limit int) ([]domain.Card, error)
	NewCards(deckID int64, limit int) ([]domain.Card, error)
}

// Queue is the session-scoped snapshot of cards to study. Due and New
// hold the two groups after ordering; Cards is the composed study
// order. No card appears twice.
type Queue struct {
	Due   []domain.Card
	New   []domain.Card
	Cards []domain.Card
}

// Builder assembles study queues from a card source. Rand is only used
// for the random orderings and may be nil, in which case the global
// source is used; tests inject a seeded Rand for determinism.
type Builder struct {
	Source CardSource
	Rand   *rand.Rand
}

// Build fetches the due and new groups for the deck, capped by the
// daily limits, applies the per-group ordering and composes the final
// study order.
func (b *Builder) Build(deckID int64, settings Settings, now time.Time) (Queue, error) {
	due, err := b.Source.DueCards(deckID, now, settings.MaxReviewsPerDay)
	if err != nil {
		return Queue{}, fmt.Errorf("failed to fetch due cards for deck %d: %w", deckID, err)
	}

	fresh, err := b.Source.NewCards(deckID, settings.NewCardsPerDay)
	if err != nil {
		return Queue{}, fmt.Errorf("failed to fetch new cards for deck %d: %w", deckID, err)
	}

	if settings.ReviewOrder == OrderRandom {
		b.shuffle(due)
	}
	if settings.NewCardOrder == OrderRandom {
		b.shuffle(fresh)
	}

	q := Queue{Due: due, New: fresh}
	if settings.MixNewWithReviews {
		q.Cards = interleave(due, fresh)
	} else {
		q.Cards = append(append([]domain.Card{}, due...), fresh...)
	}
	return q, nil
}

func (b *Builder) shuffle(cards []domain.Card) {
	swap := func(i, j int) { cards[i], cards[j] = cards[j], cards[i] }
	if b.Rand != nil {
		b.Rand.Shuffle(len(cards), swap)
	} else {
		rand.Shuffle(len(cards), swap)
	}
}

// interleave merges two groups round-robin: a[0], b[0], a[1], b[1], ...
// continuing with the longer group's remainder once the shorter one is
// exhausted.
func interleave(a, b []domain.Card) []domain.Card {
	merged := make([]domain.Card, 0, len(a)+len(b))
	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(a) {
			merged = append(merged, a[i])
		}
		if i < len(b) {
			merged = append(merged, b[i])
		}
	}
	return merged
}
