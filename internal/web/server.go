// Package web exposes the study engine over a small JSON HTTP API.
// It is a thin presentation shim: all study semantics live in the
// session, queue and sm2 packages.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/conorfennell/cardbox/internal/config"
	"github.com/conorfennell/cardbox/internal/domain"
	"github.com/conorfennell/cardbox/internal/session"
	"github.com/conorfennell/cardbox/internal/sm2"
	"github.com/conorfennell/cardbox/internal/stats"
	"github.com/conorfennell/cardbox/internal/storage"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	db     *storage.DB
	cfg    *config.Config
	router *http.ServeMux
	agg    *stats.Aggregator

	mu       sync.Mutex
	sessions map[int64]*session.Session // one active session per deck
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, cfg *config.Config) *Server {
	s := &Server{
		db:       db,
		cfg:      cfg,
		router:   http.NewServeMux(),
		agg:      stats.New(db, nil),
		sessions: make(map[int64]*session.Session),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("/decks", s.handleDecks())
	s.router.HandleFunc("/decks/", s.handleDeck())
	s.router.HandleFunc("/cards/", s.handleCard())
	s.router.HandleFunc("/study/", s.handleStudy())
	s.router.HandleFunc("/stats/overview", s.handleStatsOverview())
	s.router.HandleFunc("/stats/daily", s.handleStatsDaily())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type deckView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	DueCount int    `json:"dueCount"`
	NewCount int    `json:"newCount"`
}

// handleDecks lists all decks with their due/new counts, or creates a
// new deck.
func (s *Server) handleDecks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.handleListDecks(w, r)
		case http.MethodPost:
			s.handleCreateDeck(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) handleListDecks(w http.ResponseWriter, r *http.Request) {
	decks, err := s.db.ListDecks()
	if err != nil {
		slog.Error("Failed to list decks", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	now := time.Now()
	views := make([]deckView, 0, len(decks))
	for _, deck := range decks {
		due, err := s.db.DueCount(deck.ID, now)
		if err != nil {
			slog.Error("Failed to count due cards", "deck_id", deck.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		fresh, err := s.db.NewCount(deck.ID)
		if err != nil {
			slog.Error("Failed to count new cards", "deck_id", deck.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		views = append(views, deckView{ID: deck.ID, Name: deck.Name, DueCount: due, NewCount: fresh})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateDeck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "deck name is required")
		return
	}

	id, err := s.db.InsertDeck(req.Name, time.Now())
	if err != nil {
		slog.Error("Failed to insert deck", "name", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// handleDeck serves per-deck operations: POST /decks/{id}/cards adds a
// card, POST /decks/{id}/unbury clears buried marks, GET
// /decks/{id}/stats returns the deck's daily series.
func (s *Server) handleDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/decks/")
		parts := strings.SplitN(rest, "/", 2)
		deckID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid deck ID")
			return
		}

		action := ""
		if len(parts) == 2 {
			action = parts[1]
		}

		switch {
		case action == "cards" && r.Method == http.MethodPost:
			s.handleAddCard(w, r, deckID)
		case action == "unbury" && r.Method == http.MethodPost:
			s.handleUnbury(w, r, deckID)
		case action == "stats" && r.Method == http.MethodGet:
			s.handleDeckStats(w, r, deckID)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request, deckID int64) {
	var req struct {
		Front string `json:"front"`
		Back  string `json:"back"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Front == "" {
		writeError(w, http.StatusBadRequest, "card front is required")
		return
	}

	deck, err := s.db.GetDeck(deckID)
	if err != nil {
		slog.Error("Failed to get deck", "deck_id", deckID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if deck == nil {
		writeError(w, http.StatusNotFound, "deck not found")
		return
	}

	now := time.Now()
	id, err := s.db.InsertCard(domain.Card{
		DeckID:     deckID,
		Front:      req.Front,
		Back:       req.Back,
		Created:    now,
		Modified:   now,
		State:      domain.StateNew,
		Due:        now,
		EaseFactor: s.cfg.SM2.StartingEase,
	})
	if err != nil {
		slog.Error("Failed to insert card", "deck_id", deckID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleUnbury(w http.ResponseWriter, r *http.Request, deckID int64) {
	if err := s.db.ClearBuried(deckID); err != nil {
		slog.Error("Failed to clear buried cards", "deck_id", deckID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deckStatsView struct {
	Date          string  `json:"date"`
	DeckID        int64   `json:"deckId"`
	NewCards      int     `json:"newCards"`
	ReviewedCards int     `json:"reviewedCards"`
	RetentionRate float64 `json:"retentionRate"`
}

func (s *Server) handleDeckStats(w http.ResponseWriter, r *http.Request, deckID int64) {
	days, ok := daysParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
		return
	}

	series, err := s.agg.DeckLastNDays(deckID, days)
	if err != nil {
		slog.Error("Failed to build deck daily series", "deck_id", deckID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	views := make([]deckStatsView, 0, len(series))
	for _, day := range series {
		views = append(views, deckStatsView{
			Date:          day.Date,
			DeckID:        day.DeckID,
			NewCards:      day.NewCards,
			ReviewedCards: day.ReviewedCards,
			RetentionRate: day.RetentionRate,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// handleCard serves GET /cards/{id}/reviews plus POST
// /cards/{id}/suspend, /unsuspend and /bury.
func (s *Server) handleCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/cards/")
		parts := strings.SplitN(rest, "/", 2)
		cardID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || len(parts) != 2 {
			writeError(w, http.StatusBadRequest, "invalid card path")
			return
		}

		card, err := s.db.GetCard(cardID)
		if err != nil {
			slog.Error("Failed to get card", "card_id", cardID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if card == nil {
			writeError(w, http.StatusNotFound, "card not found")
			return
		}

		if parts[1] == "reviews" {
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.handleCardReviews(w, r, cardID)
			return
		}

		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		switch parts[1] {
		case "suspend":
			err = s.db.SetSuspended(cardID, true)
		case "unsuspend":
			err = s.db.SetSuspended(cardID, false)
		case "bury":
			err = s.db.BuryCard(cardID, time.Now())
		default:
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			slog.Error("Failed to update card", "card_id", cardID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type reviewView struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Grade      int       `json:"grade"`
	Interval   float64   `json:"interval"`
	EaseFactor float64   `json:"easeFactor"`
	PrevState  string    `json:"prevState"`
	NewState   string    `json:"newState"`
}

func (s *Server) handleCardReviews(w http.ResponseWriter, r *http.Request, cardID int64) {
	reviews, err := s.db.ReviewsForCard(cardID)
	if err != nil {
		slog.Error("Failed to get reviews", "card_id", cardID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	views := make([]reviewView, 0, len(reviews))
	for _, rev := range reviews {
		views = append(views, reviewView{
			ID:         rev.ID,
			Timestamp:  rev.Timestamp,
			Grade:      rev.Grade,
			Interval:   rev.Interval,
			EaseFactor: rev.EaseFactor,
			PrevState:  string(rev.PrevState),
			NewState:   string(rev.NewState),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type cardView struct {
	ID    int64  `json:"id"`
	Front string `json:"front"`
	Back  string `json:"back,omitempty"`
}

type sessionView struct {
	CurrentCard   *cardView         `json:"currentCard"`
	ShowingAnswer bool              `json:"showingAnswer"`
	Progress      float64           `json:"progress"`
	CurrentIndex  int               `json:"currentIndex"`
	TotalCards    int               `json:"totalCards"`
	CanUndo       bool              `json:"canUndo"`
	IsComplete    bool              `json:"isComplete"`
	Previews      map[string]string `json:"previews,omitempty"`
	Stats         session.Stats     `json:"stats"`
}

func sessionToView(sess *session.Session) sessionView {
	view := sessionView{
		ShowingAnswer: sess.ShowingAnswer(),
		Progress:      sess.Progress(),
		CurrentIndex:  sess.Index(),
		TotalCards:    sess.TotalCards(),
		CanUndo:       sess.CanUndo(),
		IsComplete:    sess.IsComplete(),
		Stats:         sess.Stats(),
	}
	if card := sess.CurrentCard(); card != nil {
		view.CurrentCard = &cardView{ID: card.ID, Front: card.Front}
		if sess.ShowingAnswer() {
			view.CurrentCard.Back = card.Back
		}
	}
	if previews := sess.IntervalPreviews(); previews != nil {
		view.Previews = make(map[string]string, len(previews))
		for rating, label := range previews {
			view.Previews[rating.String()] = label
		}
	}
	return view
}

// handleStudy drives the study session endpoints:
//
//	POST /study/{deckID}/start
//	GET  /study/{deckID}
//	POST /study/{deckID}/reveal
//	POST /study/{deckID}/rate
//	POST /study/{deckID}/undo
func (s *Server) handleStudy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/study/")
		parts := strings.SplitN(rest, "/", 2)
		deckID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid deck ID")
			return
		}

		action := ""
		if len(parts) == 2 {
			action = parts[1]
		}

		if action == "start" {
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.handleStartSession(w, r, deckID)
			return
		}

		s.mu.Lock()
		sess := s.sessions[deckID]
		s.mu.Unlock()
		if sess == nil {
			writeError(w, http.StatusNotFound, "no active session for deck")
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, sessionToView(sess))
		case action == "reveal" && r.Method == http.MethodPost:
			sess.RevealAnswer()
			writeJSON(w, http.StatusOK, sessionToView(sess))
		case action == "rate" && r.Method == http.MethodPost:
			s.handleRate(w, r, sess)
		case action == "undo" && r.Method == http.MethodPost:
			if err := sess.Undo(); err != nil {
				slog.Error("Failed to undo", "deck_id", deckID, "error", err)
				writeError(w, http.StatusInternalServerError, "undo failed, try again")
				return
			}
			writeJSON(w, http.StatusOK, sessionToView(sess))
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request, deckID int64) {
	deck, err := s.db.GetDeck(deckID)
	if err != nil {
		slog.Error("Failed to get deck", "deck_id", deckID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if deck == nil {
		writeError(w, http.StatusNotFound, "deck not found")
		return
	}

	sess, err := session.Start(s.db, deckID, session.Config{
		Settings: s.cfg.Study,
		Params:   &s.cfg.SM2,
	})
	if err != nil {
		slog.Error("Failed to start session", "deck_id", deckID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	s.mu.Lock()
	s.sessions[deckID] = sess
	s.mu.Unlock()

	slog.Info("Study session started", "deck_id", deckID, "cards", sess.TotalCards())
	writeJSON(w, http.StatusOK, sessionToView(sess))
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Grade int `json:"grade"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rating body")
		return
	}
	rating := sm2.Rating(req.Grade)
	if !rating.Valid() {
		writeError(w, http.StatusBadRequest, "grade must be between 1 and 4")
		return
	}

	if err := sess.Rate(rating); err != nil {
		slog.Error("Failed to rate card", "grade", req.Grade, "error", err)
		writeError(w, http.StatusInternalServerError, "rating failed, try again")
		return
	}
	writeJSON(w, http.StatusOK, sessionToView(sess))
}

// handleStatsOverview returns the streak, all-time totals and average
// retention.
func (s *Server) handleStatsOverview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		streak, err := s.agg.Streak()
		if err != nil {
			slog.Error("Failed to compute streak", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		total, err := s.agg.TotalReviewed()
		if err != nil {
			slog.Error("Failed to compute totals", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		retention, err := s.agg.AverageRetention()
		if err != nil {
			slog.Error("Failed to compute retention", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"streak":           streak,
			"totalReviewed":    total,
			"averageRetention": retention,
		})
	}
}

// daysParam reads the optional "days" query parameter, defaulting to
// 30 and rejecting values outside 1..365.
func daysParam(r *http.Request) (int, bool) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			return 0, false
		}
		days = n
	}
	return days, true
}

type dailyStatsView struct {
	Date          string  `json:"date"`
	NewCards      int     `json:"newCards"`
	ReviewedCards int     `json:"reviewedCards"`
	AgainCount    int     `json:"againCount"`
	HardCount     int     `json:"hardCount"`
	GoodCount     int     `json:"goodCount"`
	EasyCount     int     `json:"easyCount"`
	TimeSpentMs   int64   `json:"timeSpentMs"`
	RetentionRate float64 `json:"retentionRate"`
}

// handleStatsDaily returns a fixed-length daily series for charting.
func (s *Server) handleStatsDaily() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		days, ok := daysParam(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 365")
			return
		}

		series, err := s.agg.LastNDays(days)
		if err != nil {
			slog.Error("Failed to build daily series", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		views := make([]dailyStatsView, 0, len(series))
		for _, day := range series {
			views = append(views, dailyStatsView{
				Date:          day.Date,
				NewCards:      day.NewCards,
				ReviewedCards: day.ReviewedCards,
				AgainCount:    day.AgainCount,
				HardCount:     day.HardCount,
				GoodCount:     day.GoodCount,
				EasyCount:     day.EasyCount,
				TimeSpentMs:   day.TimeSpentMs,
				RetentionRate: day.RetentionRate,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}
