// Package stats derives streaks, retention rates and per-day rollups
// from persisted daily-stat records. It is read-side only: the study
// session writes the records, this package never does.
package stats

import (
	"fmt"
	"time"

	"github.com/conorfennell/cardbox/internal/domain"
)

// streakLookbackDays caps how far back the streak walk goes.
const streakLookbackDays = 365

// DateKey formats a time as the YYYY-MM-DD key daily stats are stored
// under.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Store provides read access to the persisted daily-stat records.
type Store interface {
	DailyStat(date string) (*domain.DailyStats, error)
	AllDailyStats() ([]domain.DailyStats, error)
	DeckDailyStat(date string, deckID int64) (*domain.DeckDailyStats, error)
}

// Aggregator computes derived statistics over a store. Now is the
// injected clock; it defaults to time.Now.
type Aggregator struct {
	store Store
	now   func() time.Time
}

// New returns an aggregator over the given store.
func New(store Store, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, now: now}
}

// Streak counts consecutive calendar days ending today with at least
// one new or reviewed card, stopping at the first zero-activity day.
func (a *Aggregator) Streak() (int, error) {
	today := a.now()
	streak := 0
	for i := 0; i < streakLookbackDays; i++ {
		day, err := a.store.DailyStat(DateKey(today.AddDate(0, 0, -i)))
		if err != nil {
			return 0, fmt.Errorf("failed to read daily stat: %w", err)
		}
		if day == nil || day.NewCards+day.ReviewedCards == 0 {
			break
		}
		streak++
	}
	return streak, nil
}

// LastNDays returns exactly n consecutive daily records ending today,
// oldest first. Days with no stored record are filled with zero-valued
// placeholders so callers always get a fixed-length series.
func (a *Aggregator) LastNDays(n int) ([]domain.DailyStats, error) {
	today := a.now()
	series := make([]domain.DailyStats, 0, n)
	for i := n - 1; i >= 0; i-- {
		date := DateKey(today.AddDate(0, 0, -i))
		day, err := a.store.DailyStat(date)
		if err != nil {
			return nil, fmt.Errorf("failed to read daily stat for %s: %w", date, err)
		}
		if day == nil {
			day = &domain.DailyStats{Date: date}
		}
		series = append(series, *day)
	}
	return series, nil
}

// DeckLastNDays is LastNDays restricted to one deck, with the same
// zero-filled fixed-length shape.
func (a *Aggregator) DeckLastNDays(deckID int64, n int) ([]domain.DeckDailyStats, error) {
	today := a.now()
	series := make([]domain.DeckDailyStats, 0, n)
	for i := n - 1; i >= 0; i-- {
		date := DateKey(today.AddDate(0, 0, -i))
		day, err := a.store.DeckDailyStat(date, deckID)
		if err != nil {
			return nil, fmt.Errorf("failed to read deck stat for %s: %w", date, err)
		}
		if day == nil {
			day = &domain.DeckDailyStats{Date: date, DeckID: deckID}
		}
		series = append(series, *day)
	}
	return series, nil
}

// TotalReviewed sums new and reviewed card counts across all stored
// days.
func (a *Aggregator) TotalReviewed() (int, error) {
	all, err := a.store.AllDailyStats()
	if err != nil {
		return 0, fmt.Errorf("failed to read daily stats: %w", err)
	}
	total := 0
	for _, day := range all {
		total += day.NewCards + day.ReviewedCards
	}
	return total, nil
}

// AverageRetention averages the per-day retention rate across days
// with nonzero activity. Days without activity do not dilute the
// average. Returns zero when there is no activity at all.
func (a *Aggregator) AverageRetention() (float64, error) {
	all, err := a.store.AllDailyStats()
	if err != nil {
		return 0, fmt.Errorf("failed to read daily stats: %w", err)
	}
	sum, active := 0.0, 0
	for _, day := range all {
		if day.NewCards+day.ReviewedCards == 0 {
			continue
		}
		sum += day.RetentionRate
		active++
	}
	if active == 0 {
		return 0, nil
	}
	return sum / float64(active), nil
}
