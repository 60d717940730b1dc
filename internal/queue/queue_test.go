package queue

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardbox/internal/domain"
)

var now = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

// fakeSource filters its cards the way the storage layer does:
// suspended and buried cards never leave the source, due cards need a
// passed due date, and limits are hard caps.
type fakeSource struct {
	cards []domain.Card
	err   error
}

func (f *fakeSource) DueCards(deckID int64, now time.Time, limit int) ([]domain.Card, error) {
	if f.err != nil {
		return nil, f.err
	}
	var due []domain.Card
	for _, c := range f.cards {
		if c.DeckID != deckID || c.Suspended || c.Buried != nil {
			continue
		}
		if c.State == domain.StateNew || c.Due.After(now) {
			continue
		}
		due = append(due, c)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (f *fakeSource) NewCards(deckID int64, limit int) ([]domain.Card, error) {
	if f.err != nil {
		return nil, f.err
	}
	var fresh []domain.Card
	for _, c := range f.cards {
		if c.DeckID != deckID || c.Suspended || c.Buried != nil || c.State != domain.StateNew {
			continue
		}
		fresh = append(fresh, c)
		if len(fresh) == limit {
			break
		}
	}
	return fresh, nil
}

func dueCard(id int64, front string) domain.Card {
	return domain.Card{ID: id, DeckID: 1, Front: front, State: domain.StateReview, Due: now.Add(-time.Hour)}
}

func newCard(id int64, front string) domain.Card {
	return domain.Card{ID: id, DeckID: 1, Front: front, State: domain.StateNew}
}

func orderedSettings() Settings {
	s := DefaultSettings()
	s.NewCardOrder = OrderNatural
	s.ReviewOrder = OrderDueFirst
	return s
}

func fronts(cards []domain.Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.Front
	}
	return out
}

func TestBuildInterleaves(t *testing.T) {
	src := &fakeSource{cards: []domain.Card{
		dueCard(1, "A"), dueCard(2, "B"), dueCard(3, "C"),
		newCard(4, "X"), newCard(5, "Y"),
	}}
	b := &Builder{Source: src}

	settings := orderedSettings()
	settings.MixNewWithReviews = true

	q, err := b.Build(1, settings, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "X", "B", "Y", "C"}, fronts(q.Cards))
}

func TestBuildConcatenatesWhenNotMixing(t *testing.T) {
	src := &fakeSource{cards: []domain.Card{
		dueCard(1, "A"), dueCard(2, "B"),
		newCard(3, "X"), newCard(4, "Y"),
	}}
	b := &Builder{Source: src}

	settings := orderedSettings()
	settings.MixNewWithReviews = false

	q, err := b.Build(1, settings, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "X", "Y"}, fronts(q.Cards))
}

func TestBuildExcludesSuspendedAndBuried(t *testing.T) {
	buried := now.Add(-time.Minute)
	suspended := dueCard(2, "suspended")
	suspended.Suspended = true
	buriedCard := newCard(4, "buried")
	buriedCard.Buried = &buried

	src := &fakeSource{cards: []domain.Card{
		dueCard(1, "A"), suspended, newCard(3, "X"), buriedCard,
	}}
	b := &Builder{Source: src}

	q, err := b.Build(1, orderedSettings(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "X"}, fronts(q.Cards))
}

func TestBuildExcludesUndueAndForeignDecks(t *testing.T) {
	notDue := dueCard(2, "not due")
	notDue.Due = now.Add(time.Hour)
	other := dueCard(3, "other deck")
	other.DeckID = 2

	src := &fakeSource{cards: []domain.Card{dueCard(1, "A"), notDue, other}}
	b := &Builder{Source: src}

	q, err := b.Build(1, orderedSettings(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, fronts(q.Cards))
}

func TestBuildCaps(t *testing.T) {
	var cards []domain.Card
	for i := 0; i < 30; i++ {
		cards = append(cards, dueCard(int64(i+1), "due"))
	}
	for i := 0; i < 30; i++ {
		cards = append(cards, newCard(int64(i+100), "new"))
	}

	settings := orderedSettings()
	settings.MaxReviewsPerDay = 10
	settings.NewCardsPerDay = 5

	b := &Builder{Source: &fakeSource{cards: cards}}
	q, err := b.Build(1, settings, now)
	require.NoError(t, err)

	assert.Len(t, q.Due, 10)
	assert.Len(t, q.New, 5)
	assert.Len(t, q.Cards, 15)
}

func TestBuildNoDuplicates(t *testing.T) {
	src := &fakeSource{cards: []domain.Card{
		dueCard(1, "A"), dueCard(2, "B"), dueCard(3, "C"),
		newCard(4, "X"), newCard(5, "Y"), newCard(6, "Z"),
	}}

	settings := DefaultSettings()
	settings.NewCardOrder = OrderRandom
	settings.ReviewOrder = OrderRandom

	b := &Builder{Source: src, Rand: rand.New(rand.NewSource(42))}
	q, err := b.Build(1, settings, now)
	require.NoError(t, err)

	seen := make(map[int64]bool)
	for _, c := range q.Cards {
		assert.False(t, seen[c.ID], "card %d appeared twice", c.ID)
		seen[c.ID] = true
	}
	assert.Len(t, q.Cards, 6)
}

func TestBuildShuffleIsPerGroup(t *testing.T) {
	src := &fakeSource{cards: []domain.Card{
		dueCard(1, "A"), dueCard(2, "B"), dueCard(3, "C"), dueCard(4, "D"),
		newCard(5, "X"), newCard(6, "Y"),
	}}

	settings := DefaultSettings()
	settings.NewCardOrder = OrderRandom
	settings.ReviewOrder = OrderRandom
	settings.MixNewWithReviews = false

	b := &Builder{Source: src, Rand: rand.New(rand.NewSource(1))}
	q, err := b.Build(1, settings, now)
	require.NoError(t, err)

	// Shuffling permutes within each group; review cards still come
	// entirely before new cards when not mixing.
	for _, c := range q.Cards[:4] {
		assert.Equal(t, domain.StateReview, c.State)
	}
	for _, c := range q.Cards[4:] {
		assert.Equal(t, domain.StateNew, c.State)
	}
}

func TestBuildSourceError(t *testing.T) {
	wantErr := errors.New("db closed")
	b := &Builder{Source: &fakeSource{err: wantErr}}

	_, err := b.Build(1, DefaultSettings(), now)
	require.ErrorIs(t, err, wantErr)
}
