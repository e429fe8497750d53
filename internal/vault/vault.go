// Package vault gives the rest of recall access to a directory of markdown
// notes: listing them, reading and rewriting their text, and editing their
// YAML frontmatter.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const noteExt = ".md"

// Options configures a Vault.
type Options struct {
	// MemoryDir is the folder holding card records. Notes inside it are not
	// listed.
	MemoryDir string
	// DryRun keeps writes in memory and records a patch for each instead.
	DryRun bool
	Logger *slog.Logger
}

// Vault is a directory of notes. Paths passed to and returned from a Vault
// are relative to its root and use forward slashes.
type Vault struct {
	root      string
	memoryDir string
	dryRun    bool
	logger    *slog.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	overlay map[string]string
	patches []Patch
}

// New opens the vault rooted at root.
func New(root string, opts Options) (*Vault, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("failed to open vault: %s is not a directory", root)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Vault{
		root:      root,
		memoryDir: strings.Trim(filepath.ToSlash(opts.MemoryDir), "/"),
		dryRun:    opts.DryRun,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
		overlay:   make(map[string]string),
	}, nil
}

// Root returns the vault directory.
func (v *Vault) Root() string {
	return v.root
}

// DryRun reports whether writes are being held back.
func (v *Vault) DryRun() bool {
	return v.dryRun
}

// Abs converts a vault path to a filesystem path.
func (v *Vault) Abs(p string) string {
	return filepath.Join(v.root, filepath.FromSlash(p))
}

// Rel converts a filesystem path inside the vault to a vault path.
func (v *Vault) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(v.root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the vault", abs)
	}
	return filepath.ToSlash(rel), nil
}

// IsNote reports whether p names a markdown note outside the memory folder
// and outside hidden directories.
func (v *Vault) IsNote(p string) bool {
	if !strings.EqualFold(path.Ext(p), noteExt) || v.InMemoryDir(p) {
		return false
	}
	for _, part := range strings.Split(path.Dir(p), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return false
		}
	}
	return true
}

// InMemoryDir reports whether p lies in the memory folder.
func (v *Vault) InMemoryDir(p string) bool {
	if v.memoryDir == "" {
		return false
	}
	return p == v.memoryDir || strings.HasPrefix(p, v.memoryDir+"/")
}

// Notes lists every note in the vault, sorted.
func (v *Vault) Notes(ctx context.Context) ([]string, error) {
	var notes []string
	err := filepath.WalkDir(v.root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := v.Rel(abs)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel != "." && (strings.HasPrefix(d.Name(), ".") || v.InMemoryDir(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if v.IsNote(rel) {
			notes = append(notes, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	sort.Strings(notes)
	return notes, nil
}

// Read returns the text of a note. In dry-run mode it sees earlier
// unapplied writes.
func (v *Vault) Read(p string) (string, error) {
	v.mu.Lock()
	content, ok := v.overlay[p]
	v.mu.Unlock()
	if ok {
		return content, nil
	}
	b, err := os.ReadFile(v.Abs(p))
	if err != nil {
		return "", fmt.Errorf("failed to read note %s: %w", p, err)
	}
	return string(b), nil
}

// lockNote holds the edit lock of p until the returned func is called.
func (v *Vault) lockNote(p string) func() {
	v.mu.Lock()
	l, ok := v.locks[p]
	if !ok {
		l = &sync.Mutex{}
		v.locks[p] = l
	}
	v.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Edit passes the current text of a note to fn and writes back what fn
// returns, unless it is unchanged. Edits of one note never interleave, so fn
// always works on the content actually stored.
func (v *Vault) Edit(p string, fn func(content string) (string, error)) error {
	unlock := v.lockNote(p)
	defer unlock()

	content, err := v.Read(p)
	if err != nil {
		return err
	}
	updated, err := fn(content)
	if err != nil {
		return err
	}
	if updated == content {
		return nil
	}
	return v.write(p, updated)
}

func (v *Vault) write(p, content string) error {
	if v.dryRun {
		old, err := v.Read(p)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		patch := Patch{Path: p, Text: Diff(old, content)}
		v.mu.Lock()
		v.overlay[p] = content
		v.patches = append(v.patches, patch)
		v.mu.Unlock()
		v.logger.Info("Dry run: note not written", "path", p)
		v.logger.Debug("Dry run patch", "path", p, "patch", patch.Text)
		return nil
	}

	abs := v.Abs(p)
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(abs); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("failed to write note %s: %w", p, err)
	}
	if err := os.WriteFile(abs, []byte(content), mode); err != nil {
		return fmt.Errorf("failed to write note %s: %w", p, err)
	}
	return nil
}

// Patches returns the changes held back in dry-run mode, in write order.
func (v *Vault) Patches() []Patch {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Patch, len(v.patches))
	copy(out, v.patches)
	return out
}
