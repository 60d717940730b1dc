package domain

import "time"

// State is the lifecycle stage of a card.
type State string

const (
	StateNew      State = "new"
	StateLearning State = "learning"
	StateReview   State = "review"
)

// Card represents a single front/back study card together with its
// scheduling fields. The scheduling fields are owned by the SM-2
// algorithm and the study session; nothing else writes them.
type Card struct {
	ID       int64
	DeckID   int64
	Front    string
	Back     string
	Created  time.Time
	Modified time.Time

	// Suspended cards are excluded from every queue until unsuspended.
	Suspended bool
	// Buried is the time the card was buried, nil if not buried.
	// Buried cards stay out of queues until the mark is cleared.
	Buried *time.Time

	State       State
	Due         time.Time // ignored while State == StateNew
	Interval    float64   // days until next review, fractional below one day
	EaseFactor  float64
	Repetitions int
	Lapses      int
}

// CardSchedule is the writable slice of a card's scheduling fields,
// applied as a unit when a rating is committed or undone.
type CardSchedule struct {
	State       State
	Due         time.Time
	Interval    float64
	EaseFactor  float64
	Repetitions int
	Lapses      int
	Modified    time.Time
}

// Schedule returns the card's current scheduling fields as a patch,
// used to snapshot a card before mutating it.
func (c Card) Schedule() CardSchedule {
	return CardSchedule{
		State:       c.State,
		Due:         c.Due,
		Interval:    c.Interval,
		EaseFactor:  c.EaseFactor,
		Repetitions: c.Repetitions,
		Lapses:      c.Lapses,
		Modified:    c.Modified,
	}
}

// ApplySchedule writes a schedule patch back onto the card.
func (c *Card) ApplySchedule(s CardSchedule) {
	c.State = s.State
	c.Due = s.Due
	c.Interval = s.Interval
	c.EaseFactor = s.EaseFactor
	c.Repetitions = s.Repetitions
	c.Lapses = s.Lapses
	c.Modified = s.Modified
}

// Deck groups cards for study.
type Deck struct {
	ID      int64
	Name    string
	Created time.Time
}

// Review records a single review event for a card.
// The Grade corresponds to SM-2 ratings:
// 1: Again (Incorrect)
// 2: Hard
// 3: Good
// 4: Easy
type Review struct {
	ID         int64
	CardID     int64
	Timestamp  time.Time
	Grade      int
	Interval   float64 // interval after this review, in days
	EaseFactor float64 // ease factor after this review
	PrevState  State
	NewState   State
}
