package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardbox/internal/domain"
)

var now = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	// A file-backed database: ":memory:" would give every pooled
	// connection its own empty database.
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertTestDeck(t *testing.T, db *DB) int64 {
	t.Helper()
	id, err := db.InsertDeck("kubernetes", now)
	require.NoError(t, err)
	return id
}

func testCard(deckID int64, state domain.State, due time.Time) domain.Card {
	return domain.Card{
		DeckID:     deckID,
		Front:      "What is a pod?",
		Back:       "The smallest deployable unit.",
		Created:    now,
		Modified:   now,
		State:      state,
		Due:        due,
		EaseFactor: 2.5,
	}
}

func TestDeckRoundtrip(t *testing.T) {
	db := openTestDB(t)
	id := insertTestDeck(t, db)

	deck, err := db.GetDeck(id)
	require.NoError(t, err)
	require.NotNil(t, deck)
	assert.Equal(t, "kubernetes", deck.Name)

	missing, err := db.GetDeck(999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	decks, err := db.ListDecks()
	require.NoError(t, err)
	assert.Len(t, decks, 1)
}

func TestCardRoundtrip(t *testing.T) {
	db := openTestDB(t)
	deckID := insertTestDeck(t, db)

	id, err := db.InsertCard(testCard(deckID, domain.StateNew, now))
	require.NoError(t, err)

	card, err := db.GetCard(id)
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, domain.StateNew, card.State)
	assert.Equal(t, 2.5, card.EaseFactor)
	assert.False(t, card.Suspended)
	assert.Nil(t, card.Buried)

	missing, err := db.GetCard(999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDueCardsFiltersAndCaps(t *testing.T) {
	db := openTestDB(t)
	deckID := insertTestDeck(t, db)

	due1, err := db.InsertCard(testCard(deckID, domain.StateReview, now.Add(-2*time.Hour)))
	require.NoError(t, err)
	due2, err := db.InsertCard(testCard(deckID, domain.StateReview, now.Add(-time.Hour)))
	require.NoError(t, err)
	// Not yet due.
	_, err = db.InsertCard(testCard(deckID, domain.StateReview, now.Add(time.Hour)))
	require.NoError(t, err)
	// New cards never enter the due queue.
	_, err = db.InsertCard(testCard(deckID, domain.StateNew, now))
	require.NoError(t, err)

	suspendedID, err := db.InsertCard(testCard(deckID, domain.StateReview, now.Add(-time.Hour)))
	require.NoError(t, err)
	require.NoError(t, db.SetSuspended(suspendedID, true))

	buriedID, err := db.InsertCard(testCard(deckID, domain.StateReview, now.Add(-time.Hour)))
	require.NoError(t, err)
	require.NoError(t, db.BuryCard(buriedID, now))

	cards, err := db.DueCards(deckID, now, 10)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	// Oldest due first.
	assert.Equal(t, due1, cards[0].ID)
	assert.Equal(t, due2, cards[1].ID)

	capped, err := db.DueCards(deckID, now, 1)
	require.NoError(t, err)
	assert.Len(t, capped, 1)

	count, err := db.DueCount(deckID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewCardsFiltersAndCaps(t *testing.T) {
	db := openTestDB(t)
	deckID := insertTestDeck(t, db)

	first, err := db.InsertCard(testCard(deckID, domain.StateNew, now))
	require.NoError(t, err)
	_, err = db.InsertCard(testCard(deckID, domain.StateNew, now))
	require.NoError(t, err)
	_, err = db.InsertCard(testCard(deckID, domain.StateReview, now.Add(-time.Hour)))
	require.NoError(t, err)

	cards, err := db.NewCards(deckID, 10)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, first, cards[0].ID)

	capped, err := db.NewCards(deckID, 1)
	require.NoError(t, err)
	assert.Len(t, capped, 1)

	count, err := db.NewCount(deckID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpdateCardSchedule(t *testing.T) {
	db := openTestDB(t)
	deckID := insertTestDeck(t, db)
	id, err := db.InsertCard(testCard(deckID, domain.StateNew, now))
	require.NoError(t, err)

	sched := domain.CardSchedule{
		State:       domain.StateReview,
		Due:         now.Add(24 * time.Hour),
		Interval:    1,
		EaseFactor:  2.5,
		Repetitions: 1,
		Lapses:      0,
		Modified:    now,
	}
	require.NoError(t, db.UpdateCardSchedule(id, sched))

	card, err := db.GetCard(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReview, card.State)
	assert.Equal(t, 1.0, card.Interval)
	assert.Equal(t, 1, card.Repetitions)
	assert.True(t, card.Due.Equal(sched.Due))
}

func TestClearBuried(t *testing.T) {
	db := openTestDB(t)
	deckID := insertTestDeck(t, db)
	id, err := db.InsertCard(testCard(deckID, domain.StateNew, now))
	require.NoError(t, err)

	require.NoError(t, db.BuryCard(id, now))
	card, err := db.GetCard(id)
	require.NoError(t, err)
	require.NotNil(t, card.Buried)

	require.NoError(t, db.ClearBuried(deckID))
	card, err = db.GetCard(id)
	require.NoError(t, err)
	assert.Nil(t, card.Buried)
}

func TestReviewLog(t *testing.T) {
	db := openTestDB(t)
	deckID := insertTestDeck(t, db)
	cardID, err := db.InsertCard(testCard(deckID, domain.StateReview, now))
	require.NoError(t, err)

	for i, grade := range []int{3, 1, 4} {
		_, err := db.AppendReview(domain.Review{
			CardID:     cardID,
			Timestamp:  now.Add(time.Duration(i) * time.Minute),
			Grade:      grade,
			Interval:   float64(i + 1),
			EaseFactor: 2.5,
			PrevState:  domain.StateReview,
			NewState:   domain.StateReview,
		})
		require.NoError(t, err)
	}

	require.NoError(t, db.DeleteLatestReviewForCard(cardID))

	reviews, err := db.ReviewsForCard(cardID)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, 3, reviews[0].Grade)
	assert.Equal(t, 1, reviews[1].Grade)

	// Deleting with no reviews left is harmless.
	require.NoError(t, db.DeleteLatestReviewForCard(999))
}

func TestIncrementDailyStat(t *testing.T) {
	db := openTestDB(t)
	deckID := insertTestDeck(t, db)

	// Two remembered, one forgotten.
	require.NoError(t, db.IncrementDailyStat("2025-03-10", 3, true, deckID, 3*time.Second))
	require.NoError(t, db.IncrementDailyStat("2025-03-10", 4, false, deckID, 2*time.Second))
	require.NoError(t, db.IncrementDailyStat("2025-03-10", 1, false, deckID, 5*time.Second))

	day, err := db.DailyStat("2025-03-10")
	require.NoError(t, err)
	require.NotNil(t, day)
	assert.Equal(t, 1, day.NewCards)
	assert.Equal(t, 2, day.ReviewedCards)
	assert.Equal(t, 1, day.AgainCount)
	assert.Equal(t, 1, day.GoodCount)
	assert.Equal(t, 1, day.EasyCount)
	assert.Equal(t, int64(10000), day.TimeSpentMs)
	// Exact: (1+1)/3 * 100
	assert.InDelta(t, 66.666, day.RetentionRate, 0.01)

	missing, err := db.DailyStat("2025-03-09")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := db.AllDailyStats()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// The per-deck retention rate is a known-approximate computation: each
// rating blends 0 or 100 into a running average instead of recounting
// good/easy, so it matches the exact ratio only by sequence order.
func TestDeckDailyStatApproximateRetention(t *testing.T) {
	db := openTestDB(t)
	deckID := insertTestDeck(t, db)

	require.NoError(t, db.IncrementDailyStat("2025-03-10", 3, true, deckID, 0))
	require.NoError(t, db.IncrementDailyStat("2025-03-10", 1, false, deckID, 0))

	deck, err := db.DeckDailyStat("2025-03-10", deckID)
	require.NoError(t, err)
	require.NotNil(t, deck)
	assert.Equal(t, 1, deck.NewCards)
	assert.Equal(t, 1, deck.ReviewedCards)
	// (100*1 + 0) / 2
	assert.InDelta(t, 50.0, deck.RetentionRate, 1e-9)

	missing, err := db.DeckDailyStat("2025-03-10", 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
