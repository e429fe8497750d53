package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/conorfennell/recall/internal/domain"
)

// Defaults used when no separators are configured.
const (
	DefaultInlineSeparator    = "::"
	DefaultMultilineSeparator = "?"
	DefaultMemoryDir          = "SR"
)

// ErrLineMismatch is returned by EmbedID when the target line no longer holds
// the card the entry was extracted from.
var ErrLineMismatch = errors.New("line does not hold the card separator")

// Separators configures how cards are written in notes.
type Separators struct {
	Inline    string
	Multiline string
	// MemoryDir is the vault folder holding card records; id markers link
	// into it.
	MemoryDir string
}

// DefaultSeparators returns "::" for inline cards and "?" for multiline ones.
func DefaultSeparators() Separators {
	return Separators{
		Inline:    DefaultInlineSeparator,
		Multiline: DefaultMultilineSeparator,
		MemoryDir: DefaultMemoryDir,
	}
}

// Marker is the link that replaces a separator once the card has an id.
func Marker(memoryDir, id, separator string) string {
	return fmt.Sprintf("[[%s/memory/%s.md|%s]]", memoryDir, id, separator)
}

type state int

const (
	idle state = iota
	readingFront
	readingBack
)

type line struct {
	n    int
	text string
}

// block accumulates the non-blank lines between two blank lines.
type block struct {
	front, back  []line
	sawSeparator bool
	id           string
	separatorAt  int
}

// Extractor turns note content into entries.
type Extractor struct {
	sep    Separators
	inline *regexp.Regexp // front, separator token, id, back
	idOnly *regexp.Regexp // whole-line multiline marker, capturing the id
}

// New builds an Extractor for the given separators.
func New(sep Separators) (*Extractor, error) {
	if strings.TrimSpace(sep.Inline) == "" || strings.TrimSpace(sep.Multiline) == "" {
		return nil, errors.New("separators must not be blank")
	}
	if sep.MemoryDir == "" {
		sep.MemoryDir = DefaultMemoryDir
	}
	dir := regexp.QuoteMeta(sep.MemoryDir)
	inlineMarker := `\[\[` + dir + `/memory/([A-Za-z0-9]{8})\.md\|` + regexp.QuoteMeta(sep.Inline) + `\]\]`
	multiMarker := `\[\[` + dir + `/memory/([A-Za-z0-9]{8})\.md\|` + regexp.QuoteMeta(sep.Multiline) + `\]\]`

	return &Extractor{
		sep:    sep,
		inline: regexp.MustCompile(`^(.*?)\s(` + regexp.QuoteMeta(sep.Inline) + `|` + inlineMarker + `)\s(.*)$`),
		idOnly: regexp.MustCompile(`^` + multiMarker + `$`),
	}, nil
}

// Extract is the one-shot form of (*Extractor).Extract with the default
// memory folder.
func Extract(content, path, inlineSeparator, multilineSeparator string) ([]domain.Entry, error) {
	x, err := New(Separators{Inline: inlineSeparator, Multiline: multilineSeparator})
	if err != nil {
		return nil, err
	}
	return x.Extract(content, path), nil
}

// Extract scans content line by line. Blank lines delimit blocks. A block
// with a multiline separator and lines on both sides of it is one Multiline
// entry; any other block is searched line by line for inline cards.
func (x *Extractor) Extract(content, path string) []domain.Entry {
	lines := strings.Split(content, "\n")
	// A trailing blank line flushes a card that ends the file.
	lines = append(lines, "")

	var entries []domain.Entry
	var cur block
	currentState := idle

	for i, raw := range lines {
		text := strings.TrimSpace(raw)

		switch {
		case text == "":
			if currentState != idle {
				entries = append(entries, x.flush(cur, path)...)
			}
			cur = block{}
			currentState = idle

		case !cur.sawSeparator && x.isMultilineSeparator(text):
			// A second separator inside the back of a card is plain text.
			cur.sawSeparator = true
			cur.separatorAt = i
			if m := x.idOnly.FindStringSubmatch(text); m != nil {
				cur.id = m[1]
			}
			currentState = readingBack

		case !cur.sawSeparator:
			cur.front = append(cur.front, line{n: i, text: text})
			currentState = readingFront

		default:
			cur.back = append(cur.back, line{n: i, text: text})
			currentState = readingBack
		}
	}

	return entries
}

func (x *Extractor) isMultilineSeparator(text string) bool {
	return text == x.sep.Multiline || x.idOnly.MatchString(text)
}

func (x *Extractor) flush(b block, path string) []domain.Entry {
	if len(b.front) > 0 && len(b.back) > 0 {
		entry := domain.Entry{
			Front:     joinText(b.front),
			Back:      joinText(b.back),
			ID:        b.id,
			Path:      path,
			EntryType: domain.Multiline,
			IsNew:     b.id == "",
		}
		if b.id == "" {
			at := b.separatorAt
			entry.LineToAddID = &at
		}
		return []domain.Entry{entry}
	}

	var entries []domain.Entry
	for _, l := range append(b.front, b.back...) {
		m := x.inline.FindStringSubmatch(l.text)
		if m == nil {
			continue
		}
		entry := domain.Entry{
			Front:     m[1],
			Back:      m[4],
			ID:        m[3],
			Path:      path,
			EntryType: domain.Inline,
			IsNew:     m[3] == "",
		}
		if m[3] == "" {
			at := l.n
			entry.LineToAddID = &at
		}
		entries = append(entries, entry)
	}
	return entries
}

func joinText(lines []line) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.text
	}
	return strings.Join(parts, "\n")
}

// EmbedID writes entry.ID into content at entry.LineToAddID, replacing the
// separator with an id marker. Only that line changes, so when several ids go
// into one note they must be embedded from the highest line down.
func (x *Extractor) EmbedID(content string, entry domain.Entry) (string, error) {
	if entry.ID == "" {
		return "", errors.New("entry has no id to embed")
	}
	if entry.LineToAddID == nil {
		return "", fmt.Errorf("entry %s has no line to add its id to", entry.ID)
	}
	lines := strings.Split(content, "\n")
	n := *entry.LineToAddID
	if n < 0 || n >= len(lines) {
		return "", fmt.Errorf("entry %s: line %d out of range (%d lines)", entry.ID, n, len(lines))
	}

	switch entry.EntryType {
	case domain.Multiline:
		if strings.TrimSpace(lines[n]) != x.sep.Multiline {
			return "", fmt.Errorf("entry %s line %d: %w", entry.ID, n, ErrLineMismatch)
		}
		lines[n] = Marker(x.sep.MemoryDir, entry.ID, x.sep.Multiline)
	default:
		loc := x.inline.FindStringSubmatchIndex(lines[n])
		if loc == nil || lines[n][loc[4]:loc[5]] != x.sep.Inline {
			return "", fmt.Errorf("entry %s line %d: %w", entry.ID, n, ErrLineMismatch)
		}
		lines[n] = lines[n][:loc[4]] + Marker(x.sep.MemoryDir, entry.ID, x.sep.Inline) + lines[n][loc[5]:]
	}
	return strings.Join(lines, "\n"), nil
}
