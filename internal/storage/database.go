package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/conorfennell/cardbox/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// InsertDeck inserts a new deck and returns its ID.
func (db *DB) InsertDeck(name string, now time.Time) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO decks (name, created)
		VALUES (?, ?)
	`, name, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deck %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for deck %s: %w", name, err)
	}
	return id, nil
}

// GetDeck retrieves a deck by ID, or nil if it does not exist.
func (db *DB) GetDeck(id int64) (*domain.Deck, error) {
	var d domain.Deck
	row := db.conn.QueryRow(`
		SELECT id, name, created
		FROM decks WHERE id = ?
	`, id)

	if err := row.Scan(&d.ID, &d.Name, &d.Created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Deck not found
		}
		return nil, fmt.Errorf("failed to get deck %d: %w", id, err)
	}
	return &d, nil
}

// ListDecks retrieves all decks ordered by name.
func (db *DB) ListDecks() ([]domain.Deck, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, created
		FROM decks ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list decks: %w", err)
	}
	defer rows.Close()

	var decks []domain.Deck
	for rows.Next() {
		var d domain.Deck
		if err := rows.Scan(&d.ID, &d.Name, &d.Created); err != nil {
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		decks = append(decks, d)
	}
	return decks, rows.Err()
}

// InsertCard inserts a new card with fresh scheduling state and
// returns its ID.
func (db *DB) InsertCard(card domain.Card) (int64, error) {
	state := card.State
	if state == "" {
		state = domain.StateNew
	}
	ease := card.EaseFactor

	res, err := db.conn.Exec(`
		INSERT INTO cards (deck_id, front, back, created, modified, suspended, buried,
			state, due, interval, ease_factor, repetitions, lapses)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		card.DeckID,
		card.Front,
		card.Back,
		card.Created,
		card.Modified,
		card.Suspended,
		nullTime(card.Buried),
		string(state),
		card.Due,
		card.Interval,
		ease,
		card.Repetitions,
		card.Lapses,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert card: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for card: %w", err)
	}
	return id, nil
}

const cardColumns = `id, deck_id, front, back, created, modified, suspended, buried,
	state, due, interval, ease_factor, repetitions, lapses`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (domain.Card, error) {
	var (
		c      domain.Card
		state  string
		buried sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.DeckID,
		&c.Front,
		&c.Back,
		&c.Created,
		&c.Modified,
		&c.Suspended,
		&buried,
		&state,
		&c.Due,
		&c.Interval,
		&c.EaseFactor,
		&c.Repetitions,
		&c.Lapses,
	)
	if err != nil {
		return domain.Card{}, err
	}
	c.State = domain.State(state)
	if buried.Valid {
		t := buried.Time
		c.Buried = &t
	}
	return c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// GetCard retrieves a card by ID, or nil if it does not exist.
func (db *DB) GetCard(id int64) (*domain.Card, error) {
	row := db.conn.QueryRow(`SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Card not found
		}
		return nil, fmt.Errorf("failed to get card %d: %w", id, err)
	}
	return &c, nil
}

func (db *DB) queryCards(query string, args ...any) ([]domain.Card, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// DueCards retrieves review-eligible cards for a deck: not suspended,
// not buried, past due and no longer new, oldest due first, capped at
// limit.
func (db *DB) DueCards(deckID int64, now time.Time, limit int) ([]domain.Card, error) {
	cards, err := db.queryCards(`
		SELECT `+cardColumns+`
		FROM cards
		WHERE deck_id = ? AND suspended = 0 AND buried IS NULL
			AND state != 'new' AND due <= ?
		ORDER BY due, id
		LIMIT ?
	`, deckID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due cards for deck %d: %w", deckID, err)
	}
	return cards, nil
}

// NewCards retrieves never-studied cards for a deck in insertion
// order, capped at limit.
func (db *DB) NewCards(deckID int64, limit int) ([]domain.Card, error) {
	cards, err := db.queryCards(`
		SELECT `+cardColumns+`
		FROM cards
		WHERE deck_id = ? AND suspended = 0 AND buried IS NULL AND state = 'new'
		ORDER BY id
		LIMIT ?
	`, deckID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get new cards for deck %d: %w", deckID, err)
	}
	return cards, nil
}

// DueCount returns how many cards in the deck are currently due.
func (db *DB) DueCount(deckID int64, now time.Time) (int, error) {
	var n int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM cards
		WHERE deck_id = ? AND suspended = 0 AND buried IS NULL
			AND state != 'new' AND due <= ?
	`, deckID, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count due cards for deck %d: %w", deckID, err)
	}
	return n, nil
}

// NewCount returns how many never-studied cards the deck holds.
func (db *DB) NewCount(deckID int64) (int, error) {
	var n int
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM cards
		WHERE deck_id = ? AND suspended = 0 AND buried IS NULL AND state = 'new'
	`, deckID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count new cards for deck %d: %w", deckID, err)
	}
	return n, nil
}

// UpdateCardSchedule writes a card's scheduling fields as a unit.
func (db *DB) UpdateCardSchedule(id int64, sched domain.CardSchedule) error {
	_, err := db.conn.Exec(`
		UPDATE cards
		SET state = ?, due = ?, interval = ?, ease_factor = ?,
			repetitions = ?, lapses = ?, modified = ?
		WHERE id = ?
	`,
		string(sched.State),
		sched.Due,
		sched.Interval,
		sched.EaseFactor,
		sched.Repetitions,
		sched.Lapses,
		sched.Modified,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule for card %d: %w", id, err)
	}
	return nil
}

// SetSuspended suspends or unsuspends a card.
func (db *DB) SetSuspended(id int64, suspended bool) error {
	_, err := db.conn.Exec(`UPDATE cards SET suspended = ? WHERE id = ?`, suspended, id)
	if err != nil {
		return fmt.Errorf("failed to set suspended for card %d: %w", id, err)
	}
	return nil
}

// BuryCard marks a card buried at the given time.
func (db *DB) BuryCard(id int64, at time.Time) error {
	_, err := db.conn.Exec(`UPDATE cards SET buried = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to bury card %d: %w", id, err)
	}
	return nil
}

// ClearBuried un-buries every card in a deck, typically at a session
// boundary.
func (db *DB) ClearBuried(deckID int64) error {
	_, err := db.conn.Exec(`UPDATE cards SET buried = NULL WHERE deck_id = ?`, deckID)
	if err != nil {
		return fmt.Errorf("failed to clear buried cards for deck %d: %w", deckID, err)
	}
	return nil
}

// AppendReview appends a review event and returns its ID.
func (db *DB) AppendReview(r domain.Review) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO reviews (card_id, timestamp, grade, interval, ease_factor, prev_state, new_state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		r.CardID,
		r.Timestamp,
		r.Grade,
		r.Interval,
		r.EaseFactor,
		string(r.PrevState),
		string(r.NewState),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append review for card %d: %w", r.CardID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for review: %w", err)
	}
	return id, nil
}

// DeleteLatestReviewForCard removes the most recent review record for
// a card. Used by undo.
func (db *DB) DeleteLatestReviewForCard(cardID int64) error {
	_, err := db.conn.Exec(`
		DELETE FROM reviews
		WHERE id = (SELECT MAX(id) FROM reviews WHERE card_id = ?)
	`, cardID)
	if err != nil {
		return fmt.Errorf("failed to delete latest review for card %d: %w", cardID, err)
	}
	return nil
}

// ReviewsForCard retrieves the review history of a card, oldest first.
func (db *DB) ReviewsForCard(cardID int64) ([]domain.Review, error) {
	rows, err := db.conn.Query(`
		SELECT id, card_id, timestamp, grade, interval, ease_factor, prev_state, new_state
		FROM reviews WHERE card_id = ? ORDER BY id
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reviews for card %d: %w", cardID, err)
	}
	defer rows.Close()

	var reviews []domain.Review
	for rows.Next() {
		var (
			r         domain.Review
			prevState string
			newState  string
		)
		if err := rows.Scan(&r.ID, &r.CardID, &r.Timestamp, &r.Grade, &r.Interval,
			&r.EaseFactor, &prevState, &newState); err != nil {
			return nil, fmt.Errorf("failed to scan review row: %w", err)
		}
		r.PrevState = domain.State(prevState)
		r.NewState = domain.State(newState)
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// IncrementDailyStat bumps the counters for one applied rating on the
// given date and recomputes the day's retention rate. The global rate
// is exact: (good+easy)/(new+reviewed)*100. The per-deck rate blends
// rating >= 3 into a running average, which only approximates the
// exact ratio; true per-deck good/easy counts are not tracked.
func (db *DB) IncrementDailyStat(date string, grade int, wasNew bool, deckID int64, timeSpent time.Duration) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin stat transaction: %w", err)
	}
	defer tx.Rollback()

	day := domain.DailyStats{Date: date}
	row := tx.QueryRow(`
		SELECT date, new_cards, reviewed_cards, again_count, hard_count,
			good_count, easy_count, time_spent_ms, retention_rate
		FROM daily_stats WHERE date = ?
	`, date)
	err = row.Scan(&day.Date, &day.NewCards, &day.ReviewedCards, &day.AgainCount,
		&day.HardCount, &day.GoodCount, &day.EasyCount, &day.TimeSpentMs, &day.RetentionRate)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read daily stat for %s: %w", date, err)
	}

	if wasNew {
		day.NewCards++
	} else {
		day.ReviewedCards++
	}
	switch grade {
	case 1:
		day.AgainCount++
	case 2:
		day.HardCount++
	case 3:
		day.GoodCount++
	case 4:
		day.EasyCount++
	}
	day.TimeSpentMs += timeSpent.Milliseconds()
	if total := day.NewCards + day.ReviewedCards; total > 0 {
		day.RetentionRate = float64(day.GoodCount+day.EasyCount) / float64(total) * 100
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO daily_stats
			(date, new_cards, reviewed_cards, again_count, hard_count,
			good_count, easy_count, time_spent_ms, retention_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, day.Date, day.NewCards, day.ReviewedCards, day.AgainCount, day.HardCount,
		day.GoodCount, day.EasyCount, day.TimeSpentMs, day.RetentionRate)
	if err != nil {
		return fmt.Errorf("failed to write daily stat for %s: %w", date, err)
	}

	deck := domain.DeckDailyStats{Date: date, DeckID: deckID}
	row = tx.QueryRow(`
		SELECT date, deck_id, new_cards, reviewed_cards, retention_rate
		FROM daily_deck_stats WHERE date = ? AND deck_id = ?
	`, date, deckID)
	err = row.Scan(&deck.Date, &deck.DeckID, &deck.NewCards, &deck.ReviewedCards, &deck.RetentionRate)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read deck stat for %s: %w", date, err)
	}

	if wasNew {
		deck.NewCards++
	} else {
		deck.ReviewedCards++
	}
	if total := deck.NewCards + deck.ReviewedCards; total > 0 {
		goodEasy := 0.0
		if grade >= 3 {
			goodEasy = 100
		}
		deck.RetentionRate = (deck.RetentionRate*float64(total-1) + goodEasy) / float64(total)
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO daily_deck_stats
			(date, deck_id, new_cards, reviewed_cards, retention_rate)
		VALUES (?, ?, ?, ?, ?)
	`, deck.Date, deck.DeckID, deck.NewCards, deck.ReviewedCards, deck.RetentionRate)
	if err != nil {
		return fmt.Errorf("failed to write deck stat for %s: %w", date, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stat transaction: %w", err)
	}
	return nil
}

// DailyStat retrieves the stats for one date, or nil if nothing was
// studied that day.
func (db *DB) DailyStat(date string) (*domain.DailyStats, error) {
	var day domain.DailyStats
	row := db.conn.QueryRow(`
		SELECT date, new_cards, reviewed_cards, again_count, hard_count,
			good_count, easy_count, time_spent_ms, retention_rate
		FROM daily_stats WHERE date = ?
	`, date)
	err := row.Scan(&day.Date, &day.NewCards, &day.ReviewedCards, &day.AgainCount,
		&day.HardCount, &day.GoodCount, &day.EasyCount, &day.TimeSpentMs, &day.RetentionRate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No activity that day
		}
		return nil, fmt.Errorf("failed to get daily stat for %s: %w", date, err)
	}
	return &day, nil
}

// AllDailyStats retrieves every stored daily stat, oldest first.
func (db *DB) AllDailyStats() ([]domain.DailyStats, error) {
	rows, err := db.conn.Query(`
		SELECT date, new_cards, reviewed_cards, again_count, hard_count,
			good_count, easy_count, time_spent_ms, retention_rate
		FROM daily_stats ORDER BY date
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	defer rows.Close()

	var all []domain.DailyStats
	for rows.Next() {
		var day domain.DailyStats
		if err := rows.Scan(&day.Date, &day.NewCards, &day.ReviewedCards, &day.AgainCount,
			&day.HardCount, &day.GoodCount, &day.EasyCount, &day.TimeSpentMs, &day.RetentionRate); err != nil {
			return nil, fmt.Errorf("failed to scan daily stat row: %w", err)
		}
		all = append(all, day)
	}
	return all, rows.Err()
}

// DeckDailyStat retrieves the per-deck stat row for a date, or nil.
func (db *DB) DeckDailyStat(date string, deckID int64) (*domain.DeckDailyStats, error) {
	var deck domain.DeckDailyStats
	row := db.conn.QueryRow(`
		SELECT date, deck_id, new_cards, reviewed_cards, retention_rate
		FROM daily_deck_stats WHERE date = ? AND deck_id = ?
	`, date, deckID)
	err := row.Scan(&deck.Date, &deck.DeckID, &deck.NewCards, &deck.ReviewedCards, &deck.RetentionRate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deck stat for %s: %w", date, err)
	}
	return &deck, nil
}
