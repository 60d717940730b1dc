package storage

const schema = `
-- The 'decks' table groups cards into studyable collections.
CREATE TABLE IF NOT EXISTS decks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    created DATETIME NOT NULL
);

-- The 'cards' table stores each flashcard's content and its SM-2
-- scheduling state.
CREATE TABLE IF NOT EXISTS cards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    deck_id INTEGER NOT NULL,
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    created DATETIME NOT NULL,
    modified DATETIME NOT NULL,
    suspended INTEGER NOT NULL DEFAULT 0,
    buried DATETIME,
    state TEXT NOT NULL DEFAULT 'new', -- new, learning, review
    due DATETIME NOT NULL,
    interval REAL NOT NULL DEFAULT 0,
    ease_factor REAL NOT NULL DEFAULT 0,
    repetitions INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(deck_id) REFERENCES decks(id)
);

-- Queue building filters on deck, state and due date.
CREATE INDEX IF NOT EXISTS idx_cards_deck_state_due ON cards(deck_id, state, due);

-- The 'reviews' table is the append-only review event log. Undo
-- deletes the most recent row for a card.
CREATE TABLE IF NOT EXISTS reviews (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    card_id INTEGER NOT NULL,
    timestamp DATETIME NOT NULL,
    grade INTEGER NOT NULL,
    interval REAL NOT NULL,
    ease_factor REAL NOT NULL,
    prev_state TEXT NOT NULL,
    new_state TEXT NOT NULL,

    FOREIGN KEY(card_id) REFERENCES cards(id)
);

CREATE INDEX IF NOT EXISTS idx_reviews_card_id ON reviews(card_id, id);

-- The 'daily_stats' table holds one row per calendar date, accumulated
-- incrementally as ratings are applied. Rows are never deleted.
CREATE TABLE IF NOT EXISTS daily_stats (
    date TEXT PRIMARY KEY, -- YYYY-MM-DD
    new_cards INTEGER NOT NULL DEFAULT 0,
    reviewed_cards INTEGER NOT NULL DEFAULT 0,
    again_count INTEGER NOT NULL DEFAULT 0,
    hard_count INTEGER NOT NULL DEFAULT 0,
    good_count INTEGER NOT NULL DEFAULT 0,
    easy_count INTEGER NOT NULL DEFAULT 0,
    time_spent_ms INTEGER NOT NULL DEFAULT 0,
    retention_rate REAL NOT NULL DEFAULT 0
);

-- Per-deck slice of a day's activity. Retention here is a blended
-- running average, not an exact ratio.
CREATE TABLE IF NOT EXISTS daily_deck_stats (
    date TEXT NOT NULL,
    deck_id INTEGER NOT NULL,
    new_cards INTEGER NOT NULL DEFAULT 0,
    reviewed_cards INTEGER NOT NULL DEFAULT 0,
    retention_rate REAL NOT NULL DEFAULT 0,

    PRIMARY KEY(date, deck_id),
    FOREIGN KEY(deck_id) REFERENCES decks(id)
);
`
