package storage

const schema = `
PRAGMA foreign_keys = ON;

-- The 'sources' table tracks the origin of the cards, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local', -- 'local' or 'git'
    last_scanned DATETIME
);

-- The 'cards' table stores each flashcard together with its SM-2 review state.
CREATE TABLE IF NOT EXISTS cards (
    hash TEXT PRIMARY KEY,
    question TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    deck TEXT NOT NULL DEFAULT '',
    ease_factor REAL NOT NULL DEFAULT 2.5,
    interval_days INTEGER NOT NULL DEFAULT 0,
    repetitions INTEGER NOT NULL DEFAULT 0,
    due_date DATETIME NOT NULL,
    last_review DATETIME,
    version INTEGER NOT NULL DEFAULT 0, -- bumped on every state write
    source_id INTEGER,

    FOREIGN KEY(source_id) REFERENCES sources(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_cards_due ON cards(due_date);
CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards(deck);

-- The 'review_logs' table keeps one row per review, removed together with its card.
CREATE TABLE IF NOT EXISTS review_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    card_hash TEXT NOT NULL,
    reviewed_at DATETIME NOT NULL,
    quality INTEGER NOT NULL,
    time_spent_seconds REAL NOT NULL DEFAULT 0,
    was_correct INTEGER NOT NULL,

    FOREIGN KEY(card_hash) REFERENCES cards(hash) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_review_logs_reviewed_at ON review_logs(reviewed_at);
`
