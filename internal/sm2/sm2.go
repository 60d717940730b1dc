package sm2

import (
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/cardbox/internal/domain"
)

// Rating is the user's response to a card review.
type Rating int

const (
	Again Rating = 1
	Hard  Rating = 2
	Good  Rating = 3
	Easy  Rating = 4
)

// Ratings lists all ratings in ascending order, for preview loops.
var Ratings = [4]Rating{Again, Hard, Good, Easy}

func (r Rating) String() string {
	switch r {
	case Again:
		return "again"
	case Hard:
		return "hard"
	case Good:
		return "good"
	case Easy:
		return "easy"
	}
	return fmt.Sprintf("rating(%d)", int(r))
}

// Valid reports whether r is one of the four defined ratings.
func (r Rating) Valid() bool {
	return r >= Again && r <= Easy
}

// learningStepDays is the short relearning step used for Hard on a
// new/learning card, roughly ten minutes expressed in days.
const learningStepDays = 0.0069

// minEase is the floor for the ease factor.
const minEase = 1.3

// Params holds the tunable parameters of the SM-2 variant. They are
// read once at session start and never change mid-session.
type Params struct {
	StartingEase       float64 `koanf:"starting_ease" validate:"gte=1.3"`
	GraduatingInterval float64 `koanf:"graduating_interval" validate:"gt=0"`
	EasyInterval       float64 `koanf:"easy_interval" validate:"gt=0"`
	EasyBonus          float64 `koanf:"easy_bonus" validate:"gte=1"`
	HardInterval       float64 `koanf:"hard_interval" validate:"gt=0,lte=1.5"`
	IntervalModifier   float64 `koanf:"interval_modifier" validate:"gt=0"`
	// NewInterval is the flat interval in days applied on Again.
	// The default of zero sends the card straight back into learning.
	NewInterval float64 `koanf:"new_interval" validate:"gte=0"`
}

// DefaultParams provides the stock SM-2 tuning.
func DefaultParams() *Params {
	return &Params{
		StartingEase:       2.5,
		GraduatingInterval: 1,
		EasyInterval:       4,
		EasyBonus:          1.3,
		HardInterval:       1.2,
		IntervalModifier:   1.0,
		NewInterval:        0.0,
	}
}

// Result is the scheduling state produced by a single review.
type Result struct {
	Interval    float64 // days, fractional below one day
	Repetitions int
	EaseFactor  float64
	State       domain.State
	Due         time.Time
}

// Schedule computes the card's next scheduling state for the given
// rating. It is a pure function of (card, rating, now): it never
// mutates the card and has no error path for any defined rating.
func (p *Params) Schedule(card domain.Card, rating Rating, now time.Time) Result {
	// The ease factor only moves while the card is in review.
	// EF' = EF + (0.1 - (5 - q) * (0.08 + (5 - q) * 0.02))
	ease := card.EaseFactor
	if card.State == domain.StateReview {
		q := float64(rating)
		ease = math.Max(minEase, ease+0.1-(5-q)*(0.08+(5-q)*0.02))
	} else if ease == 0 {
		ease = p.StartingEase
	}

	var (
		interval float64
		reps     int
		state    domain.State
	)

	switch rating {
	case Again:
		// Full reset, even from review (a lapse).
		interval = p.NewInterval
		reps = 0
		state = domain.StateLearning

	case Hard:
		if card.State == domain.StateReview {
			interval = card.Interval * p.HardInterval
			reps = card.Repetitions
			state = domain.StateReview
		} else {
			interval = learningStepDays
			reps = card.Repetitions
			state = domain.StateLearning
		}

	case Good:
		switch {
		case card.State != domain.StateReview:
			interval = p.GraduatingInterval
			reps = 1
		case card.Repetitions == 0:
			interval = p.GraduatingInterval
			reps = 1
		case card.Repetitions == 1:
			interval = p.GraduatingInterval * 2.5
			reps = 2
		default:
			interval = card.Interval * ease
			reps = card.Repetitions + 1
		}
		state = domain.StateReview

	case Easy:
		switch {
		case card.State != domain.StateReview:
			interval = p.EasyInterval
			reps = 1
		case card.Repetitions == 0:
			interval = p.EasyInterval
			reps = 1
		default:
			interval = card.Interval * ease * p.EasyBonus
			reps = card.Repetitions + 1
		}
		state = domain.StateReview
	}

	interval *= p.IntervalModifier

	// Sub-day intervals keep their fractional precision for learning
	// steps; anything longer rounds to whole days.
	if interval >= 1 {
		interval = math.Round(interval)
	}

	return Result{
		Interval:    interval,
		Repetitions: reps,
		EaseFactor:  ease,
		State:       state,
		Due:         now.Add(time.Duration(interval * 24 * float64(time.Hour))),
	}
}

// Previews returns the formatted next interval for every rating without
// mutating the card. It delegates to Schedule so the preview can never
// drift from what a committed rating would produce.
func (p *Params) Previews(card domain.Card, now time.Time) map[Rating]string {
	previews := make(map[Rating]string, len(Ratings))
	for _, rating := range Ratings {
		previews[rating] = FormatInterval(p.Schedule(card, rating, now).Interval)
	}
	return previews
}

// FormatInterval renders an interval in days as a compact human string
// such as "10m", "5h", "3d", "2mo" or "1y".
func FormatInterval(days float64) string {
	switch {
	case days < 0.021:
		return fmt.Sprintf("%dm", int(math.Round(days*24*60)))
	case days < 1:
		return fmt.Sprintf("%dh", int(math.Round(days*24)))
	case days < 30:
		return fmt.Sprintf("%dd", int(math.Round(days)))
	case days < 365:
		return fmt.Sprintf("%dmo", int(math.Round(days/30)))
	default:
		return fmt.Sprintf("%dy", int(math.Round(days/365)))
	}
}
