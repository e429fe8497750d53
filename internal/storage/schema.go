package storage

const schema = `
-- One row per memory record. 'content' holds the record as JSON; is_shown and
-- due_date are copied out of it for inspection with the sqlite shell.
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    is_shown INTEGER NOT NULL DEFAULT 1,
    due_date TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Singleton documents: the deck registry ('decks') and review stats ('stats').
CREATE TABLE IF NOT EXISTS registry (
    name TEXT PRIMARY KEY,
    content TEXT NOT NULL
);

INSERT OR IGNORE INTO registry (name, content) VALUES ('decks', '{"decks": []}');
`
