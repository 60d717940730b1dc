package domain

// DailyStats is one record per calendar date, keyed by a YYYY-MM-DD
// string. Counters are accumulated incrementally as ratings are applied
// and are never decremented: undo leaves daily stats untouched, so the
// record doubles as an append-only audit trail of study activity.
type DailyStats struct {
	Date          string
	NewCards      int
	ReviewedCards int
	AgainCount    int
	HardCount     int
	GoodCount     int
	EasyCount     int
	TimeSpentMs   int64
	// RetentionRate is (good+easy)/(new+reviewed)*100, recomputed exactly
	// after every increment. Zero when there is no activity.
	RetentionRate float64
}

// DeckDailyStats is the per-deck slice of a day's activity. Its
// RetentionRate is a running-average approximation blended from
// individual ratings, not an exact good+easy ratio; see the stats
// package for details.
type DeckDailyStats struct {
	Date          string
	DeckID        int64
	NewCards      int
	ReviewedCards int
	RetentionRate float64
}
