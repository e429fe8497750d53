package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

const (
	// timeLayout is fixed width so stored times sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

	registryDecks = "decks"
	registryStats = "stats"
)

// DB is a Store backed by an SQLite database.
type DB struct {
	conn *sql.DB
}

var _ Store = (*DB)(nil)

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Get loads the memory record with the given id.
func (db *DB) Get(ctx context.Context, id string) (*domain.Memory, error) {
	var content string
	err := db.conn.QueryRowContext(ctx, `SELECT content FROM memories WHERE id = ?`, id).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find memory %s: %w", id, err)
	}
	return decodeMemory(id, []byte(content))
}

// Put inserts or replaces a memory record.
func (db *DB) Put(ctx context.Context, m *domain.Memory) error {
	content, err := encodeMemory(m)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO memories (id, content, is_shown, due_date, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			is_shown = excluded.is_shown,
			due_date = excluded.due_date,
			updated_at = excluded.updated_at
	`,
		m.ID,
		string(content),
		m.IsShown,
		m.Card.Due.UTC().Format(timeLayout),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to write memory %s: %w", m.ID, err)
	}
	return nil
}

// List returns the ids of all stored records.
func (db *DB) List(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM memories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a record. Deleting a missing record is not an error.
func (db *DB) Delete(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory %s: %w", id, err)
	}
	return nil
}

// LoadDecks reads the deck registry.
func (db *DB) LoadDecks(ctx context.Context) ([]domain.DeckMetaData, error) {
	content, err := db.readRegistry(ctx, registryDecks)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no deck registry row", ErrRegistry)
		}
		return nil, fmt.Errorf("%w: %v", ErrRegistry, err)
	}
	var doc registryDoc
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistry, err)
	}
	return doc.Decks, nil
}

// SaveDecks replaces the deck registry.
func (db *DB) SaveDecks(ctx context.Context, decks []domain.DeckMetaData) error {
	if decks == nil {
		decks = []domain.DeckMetaData{}
	}
	return db.writeRegistry(ctx, registryDecks, registryDoc{Decks: decks})
}

// LoadStreak reads the review streak. A missing streak is a zero streak.
func (db *DB) LoadStreak(ctx context.Context) (domain.Streak, error) {
	content, err := db.readRegistry(ctx, registryStats)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Streak{}, nil
		}
		return domain.Streak{}, fmt.Errorf("failed to read stats: %w", err)
	}
	var doc statsDoc
	if err := json.Unmarshal(content, &doc); err != nil {
		return domain.Streak{}, fmt.Errorf("failed to parse stats: %w", err)
	}
	return doc.Streak, nil
}

// SaveStreak replaces the review streak.
func (db *DB) SaveStreak(ctx context.Context, s domain.Streak) error {
	return db.writeRegistry(ctx, registryStats, statsDoc{Streak: s})
}

func (db *DB) readRegistry(ctx context.Context, name string) ([]byte, error) {
	var content string
	err := db.conn.QueryRowContext(ctx, `SELECT content FROM registry WHERE name = ?`, name).Scan(&content)
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

func (db *DB) writeRegistry(ctx context.Context, name string, doc any) error {
	content, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO registry (name, content) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET content = excluded.content
	`, name, string(content))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func encodeMemory(m *domain.Memory) ([]byte, error) {
	if m == nil || m.ID == "" {
		return nil, errors.New("memory record must have an id")
	}
	if m.ReviewLogs == nil {
		m.ReviewLogs = []domain.ReviewLog{}
	}
	content, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode memory %s: %w", m.ID, err)
	}
	return content, nil
}

func decodeMemory(id string, content []byte) (*domain.Memory, error) {
	var m domain.Memory
	if err := json.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", id, ErrCorrupt, err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("%s: %w: record has no id", id, ErrCorrupt)
	}
	return &m, nil
}
