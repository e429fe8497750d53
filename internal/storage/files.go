package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conorfennell/recall/internal/domain"
)

const recordExt = ".md"

// FileStore is a Store that keeps one JSON document per record inside the
// vault, so records travel with the notes:
//
//	<root>/<dir>/memory/<id>.md
//	<root>/<dir>/deck.md
//	<root>/<dir>/stats.md
type FileStore struct {
	base string
}

var _ Store = (*FileStore)(nil)

// NewFileStore prepares the memory folder under root and creates an empty
// deck registry when none exists.
func NewFileStore(root, dir string) (*FileStore, error) {
	s := &FileStore{base: filepath.Join(root, dir)}
	if err := os.MkdirAll(s.memoryDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create memory folder: %w", err)
	}
	if _, err := os.Stat(s.decksPath()); errors.Is(err, fs.ErrNotExist) {
		if err := s.SaveDecks(context.Background(), nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStore) memoryDir() string { return filepath.Join(s.base, "memory") }
func (s *FileStore) decksPath() string { return filepath.Join(s.base, "deck"+recordExt) }
func (s *FileStore) statsPath() string { return filepath.Join(s.base, "stats"+recordExt) }

func (s *FileStore) recordPath(id string) string {
	return filepath.Join(s.memoryDir(), id+recordExt)
}

// Close is a no-op; the store holds no open handles.
func (s *FileStore) Close() error { return nil }

// Get reads and decodes <id>.md.
func (s *FileStore) Get(ctx context.Context, id string) (*domain.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read memory %s: %w", id, err)
	}
	return decodeMemory(id, content)
}

// Put writes the record, replacing any previous version in one rename.
func (s *FileStore) Put(ctx context.Context, m *domain.Memory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content, err := encodeMemory(m)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.recordPath(m.ID), content)
}

// List returns the ids of all records, sorted.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.memoryDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), recordExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes <id>.md. Deleting a missing record is not an error.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.recordPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete memory %s: %w", id, err)
	}
	return nil
}

// LoadDecks reads deck.md.
func (s *FileStore) LoadDecks(ctx context.Context) ([]domain.DeckMetaData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(s.decksPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistry, err)
	}
	var doc registryDoc
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("%w: cannot parse %s: %v", ErrRegistry, s.decksPath(), err)
	}
	return doc.Decks, nil
}

// SaveDecks rewrites deck.md.
func (s *FileStore) SaveDecks(ctx context.Context, decks []domain.DeckMetaData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if decks == nil {
		decks = []domain.DeckMetaData{}
	}
	content, err := json.MarshalIndent(registryDoc{Comment: domain.CorruptionWarning, Decks: decks}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode deck registry: %w", err)
	}
	return writeFileAtomic(s.decksPath(), content)
}

// LoadStreak reads stats.md. A missing file is a zero streak.
func (s *FileStore) LoadStreak(ctx context.Context) (domain.Streak, error) {
	if err := ctx.Err(); err != nil {
		return domain.Streak{}, err
	}
	content, err := os.ReadFile(s.statsPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
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

// SaveStreak rewrites stats.md.
func (s *FileStore) SaveStreak(ctx context.Context, streak domain.Streak) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content, err := json.MarshalIndent(statsDoc{Comment: domain.CorruptionWarning, Streak: streak}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	return writeFileAtomic(s.statsPath(), content)
}

// writeFileAtomic writes to a temporary sibling and renames it over path, so
// readers never see a half-written record.
func writeFileAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
