// Package session drives a single interactive study run: the current
// card, answer visibility, rating application, undo history and
// aggregate counters. It is the only writer of card scheduling state.
package session

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/conorfennell/cardbox/internal/domain"
	"github.com/conorfennell/cardbox/internal/queue"
	"github.com/conorfennell/cardbox/internal/sm2"
	"github.com/conorfennell/cardbox/internal/stats"
)

// Store is the persistence surface a session needs. All failure
// originates here; the scheduling math itself has no error path.
type Store interface {
	DueCards(deckID int64, now time.Time, limit int) ([]domain.Card, error)
	NewCards(deckID int64, limit int) ([]domain.Card, error)
	UpdateCardSchedule(id int64, sched domain.CardSchedule) error
	AppendReview(r domain.Review) (int64, error)
	DeleteLatestReviewForCard(cardID int64) error
	IncrementDailyStat(date string, grade int, wasNew bool, deckID int64, timeSpent time.Duration) error
}

// Stats are the in-memory counters for one study run. They move only
// after every persistence call for a rating has succeeded, and undo
// rolls them back symmetrically.
type Stats struct {
	CardsStudied       int       `json:"cardsStudied"`
	NewCardsStudied    int       `json:"newCardsStudied"`
	ReviewCardsStudied int       `json:"reviewCardsStudied"`
	AgainCount         int       `json:"againCount"`
	HardCount          int       `json:"hardCount"`
	GoodCount          int       `json:"goodCount"`
	EasyCount          int       `json:"easyCount"`
	StartTime          time.Time `json:"startTime"`
	EndTime            time.Time `json:"endTime"` // zero while the session is running
}

// Config snapshots everything a session reads at start. Settings and
// Params are never re-read mid-session.
type Config struct {
	Settings queue.Settings
	Params   *sm2.Params
	Now      func() time.Time // defaults to time.Now
	Rand     *rand.Rand       // optional, used for queue shuffling
}

type undoEntry struct {
	card   domain.Card // full pre-mutation copy
	rating sm2.Rating
}

// Session is the state machine for one study run. It is safe for
// concurrent use: the mutex covers all state, and a Rate or Undo that
// arrives while another is still persisting is ignored via the busy
// guard rather than queued, so a double-fired event applies once.
type Session struct {
	store  Store
	deckID int64
	params *sm2.Params
	now    func() time.Time

	mu            sync.Mutex
	cards         []domain.Card
	index         int
	showingAnswer bool
	cardShownAt   time.Time
	stats         Stats
	history       []undoEntry
	busy          bool // a Rate or Undo is between its guard check and its final state update
}

// Start builds the study queue for the deck and returns a running
// session. A repository failure is returned as an error; an empty
// queue is not an error, the session is simply complete from the
// start.
func Start(store Store, deckID int64, cfg Config) (*Session, error) {
	if cfg.Params == nil {
		cfg.Params = sm2.DefaultParams()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	now := cfg.Now()
	builder := &queue.Builder{Source: store, Rand: cfg.Rand}
	q, err := builder.Build(deckID, cfg.Settings, now)
	if err != nil {
		return nil, fmt.Errorf("failed to start session for deck %d: %w", deckID, err)
	}

	s := &Session{
		store:       store,
		deckID:      deckID,
		params:      cfg.Params,
		now:         cfg.Now,
		cards:       q.Cards,
		cardShownAt: now,
		stats:       Stats{StartTime: now},
	}
	if len(s.cards) == 0 {
		s.stats.EndTime = now
	}
	return s, nil
}

// current returns a pointer into the queue slice, or nil once the
// session is complete. Callers must hold mu.
func (s *Session) current() *domain.Card {
	if s.index >= len(s.cards) {
		return nil
	}
	return &s.cards[s.index]
}

// CurrentCard returns a copy of the card being studied, or nil once
// the session is complete.
func (s *Session) CurrentCard() *domain.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	card := s.current()
	if card == nil {
		return nil
	}
	c := *card
	return &c
}

// ShowingAnswer reports whether the current card's answer is revealed.
func (s *Session) ShowingAnswer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showingAnswer
}

// RevealAnswer flips the current card to its answer side. It is a
// no-op when the answer is already showing or the session is complete.
func (s *Session) RevealAnswer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current() == nil {
		return
	}
	s.showingAnswer = true
}

// Rate applies the user's rating to the current card: it computes the
// new schedule, persists the card, appends a review record, bumps the
// daily stats, updates the session counters and advances to the next
// card. Invalid calls (no current card, answer not shown, rating out
// of range, an operation already in flight) are ignored. A persistence
// failure aborts the whole operation without touching the in-memory
// counters and is returned to the caller as retryable.
func (s *Session) Rate(rating sm2.Rating) error {
	s.mu.Lock()
	card := s.current()
	if s.busy || card == nil || !s.showingAnswer || !rating.Valid() {
		s.mu.Unlock()
		return nil
	}
	s.busy = true
	snapshot := *card
	shownAt := s.cardShownAt
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	// The busy flag keeps every other Rate/Undo out from here on, so
	// the persistence calls below run without the lock held.
	now := s.now()
	wasNew := snapshot.State == domain.StateNew

	res := s.params.Schedule(snapshot, rating, now)

	lapses := snapshot.Lapses
	if rating == sm2.Again && snapshot.State == domain.StateReview {
		lapses++
	}

	sched := domain.CardSchedule{
		State:       res.State,
		Due:         res.Due,
		Interval:    res.Interval,
		EaseFactor:  res.EaseFactor,
		Repetitions: res.Repetitions,
		Lapses:      lapses,
		Modified:    now,
	}
	if err := s.store.UpdateCardSchedule(snapshot.ID, sched); err != nil {
		return fmt.Errorf("failed to persist rating for card %d: %w", snapshot.ID, err)
	}

	// If a write below fails after the card update succeeded, the card
	// and the review log are left inconsistent; no compensating
	// rollback is attempted here.
	_, err := s.store.AppendReview(domain.Review{
		CardID:     snapshot.ID,
		Timestamp:  now,
		Grade:      int(rating),
		Interval:   res.Interval,
		EaseFactor: res.EaseFactor,
		PrevState:  snapshot.State,
		NewState:   res.State,
	})
	if err != nil {
		return fmt.Errorf("failed to append review for card %d: %w", snapshot.ID, err)
	}

	timeSpent := now.Sub(shownAt)
	if err := s.store.IncrementDailyStat(stats.DateKey(now), int(rating), wasNew, s.deckID, timeSpent); err != nil {
		return fmt.Errorf("failed to record daily stat for card %d: %w", snapshot.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cards[s.index].ApplySchedule(sched)

	s.stats.CardsStudied++
	if wasNew {
		s.stats.NewCardsStudied++
	} else {
		s.stats.ReviewCardsStudied++
	}
	switch rating {
	case sm2.Again:
		s.stats.AgainCount++
	case sm2.Hard:
		s.stats.HardCount++
	case sm2.Good:
		s.stats.GoodCount++
	case sm2.Easy:
		s.stats.EasyCount++
	}

	s.history = append(s.history, undoEntry{card: snapshot, rating: rating})

	s.index++
	s.showingAnswer = false
	s.cardShownAt = now
	if s.index >= len(s.cards) {
		s.stats.EndTime = now
	}
	return nil
}

// Undo reverses the most recent rating: the card's persisted
// scheduling fields are restored from the snapshot, the latest review
// record for the card is deleted, and the session counters roll back.
// The daily-stat increment from the original rating is deliberately
// not reversed; daily stats accumulate monotonically. Undo with an
// empty history is a no-op.
func (s *Session) Undo() error {
	s.mu.Lock()
	if s.busy || len(s.history) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.busy = true
	entry := s.history[len(s.history)-1]
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	snapshot := entry.card

	sched := snapshot.Schedule()
	sched.Modified = s.now()
	if err := s.store.UpdateCardSchedule(snapshot.ID, sched); err != nil {
		return fmt.Errorf("failed to restore card %d: %w", snapshot.ID, err)
	}
	if err := s.store.DeleteLatestReviewForCard(snapshot.ID); err != nil {
		return fmt.Errorf("failed to delete review for card %d: %w", snapshot.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = s.history[:len(s.history)-1]

	s.stats.CardsStudied--
	if snapshot.State == domain.StateNew {
		s.stats.NewCardsStudied--
	} else {
		s.stats.ReviewCardsStudied--
	}
	switch entry.rating {
	case sm2.Again:
		s.stats.AgainCount--
	case sm2.Hard:
		s.stats.HardCount--
	case sm2.Good:
		s.stats.GoodCount--
	case sm2.Easy:
		s.stats.EasyCount--
	}
	s.stats.EndTime = time.Time{}

	s.index--
	s.cards[s.index] = snapshot
	s.showingAnswer = false
	s.cardShownAt = s.now()
	return nil
}

// IntervalPreviews returns the formatted "what if" interval for each
// rating of the current card, or nil once the session is complete.
func (s *Session) IntervalPreviews() map[sm2.Rating]string {
	s.mu.Lock()
	card := s.current()
	if card == nil {
		s.mu.Unlock()
		return nil
	}
	snapshot := *card
	s.mu.Unlock()
	return s.params.Previews(snapshot, s.now())
}

// Progress is the percentage of the queue already studied.
func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cards) == 0 {
		return 0
	}
	return float64(s.index) / float64(len(s.cards)) * 100
}

// CanUndo reports whether there is a rating to undo.
func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history) > 0
}

// IsComplete reports whether the queue pointer has advanced past the
// last card.
func (s *Session) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index >= len(s.cards)
}

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// TotalCards is the size of the study queue.
func (s *Session) TotalCards() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cards)
}

// Index is the zero-based queue position.
func (s *Session) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}
