package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/conorfennell/recall/internal/domain"
)

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	x, err := New(DefaultSeparators())
	if err != nil {
		t.Fatalf("New() returned an unexpected error: %v", err)
	}
	return x
}

func TestExtract(t *testing.T) {
	testCases := []struct {
		name           string
		input          string
		expectedCount  int
		expectedFront  string
		expectedBack   string
		expectedType   domain.EntryType
		expectedID     string
		expectedLineAt int
	}{
		{
			name:           "Simple inline",
			input:          "What is the capital of France? :: Paris",
			expectedCount:  1,
			expectedFront:  "What is the capital of France?",
			expectedBack:   "Paris",
			expectedType:   domain.Inline,
			expectedLineAt: 0,
		},
		{
			name:           "Inline after prose",
			input:          "# Geography\n\nSome notes.\nCapital of Peru :: Lima\n",
			expectedCount:  1,
			expectedFront:  "Capital of Peru",
			expectedBack:   "Lima",
			expectedType:   domain.Inline,
			expectedLineAt: 3,
		},
		{
			name:           "Multiline card",
			input:          "What are the primary colors?\n?\nRed\nBlue\nYellow\n",
			expectedCount:  1,
			expectedFront:  "What are the primary colors?",
			expectedBack:   "Red\nBlue\nYellow",
			expectedType:   domain.Multiline,
			expectedLineAt: 1,
		},
		{
			name:           "Multiline front spans lines",
			input:          "intro\n\nName the\nthree states\n?\nsolid, liquid, gas",
			expectedCount:  1,
			expectedFront:  "Name the\nthree states",
			expectedBack:   "solid, liquid, gas",
			expectedType:   domain.Multiline,
			expectedLineAt: 4,
		},
		{
			name:           "Stray separator in the back is content",
			input:          "Front\n?\nBack one\n?\nBack two",
			expectedCount:  1,
			expectedFront:  "Front",
			expectedBack:   "Back one\n?\nBack two",
			expectedType:   domain.Multiline,
			expectedLineAt: 1,
		},
		{
			name:          "Inline card with id",
			input:         "Capital of Peru [[SR/memory/AbCd1234.md|::]] Lima",
			expectedCount: 1,
			expectedFront: "Capital of Peru",
			expectedBack:  "Lima",
			expectedType:  domain.Inline,
			expectedID:    "AbCd1234",
		},
		{
			name:          "Multiline card with id",
			input:         "Front\n[[SR/memory/Zz9Yy8Xx.md|?]]\nBack",
			expectedCount: 1,
			expectedFront: "Front",
			expectedBack:  "Back",
			expectedType:  domain.Multiline,
			expectedID:    "Zz9Yy8Xx",
		},
		{
			name:          "No cards, just text",
			input:         "This is a file with no questions.\nNor here.",
			expectedCount: 0,
		},
		{
			name:          "Separator without spaces is not a card",
			input:         "std::vector is a container",
			expectedCount: 0,
		},
		{
			name:          "Separator with nothing after it",
			input:         "Front\n?\n\nBack",
			expectedCount: 0,
		},
	}

	x := newExtractor(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			entries := x.Extract(tc.input, "notes/a.md")

			if len(entries) != tc.expectedCount {
				t.Fatalf("Expected %d entries, but got %d: %+v", tc.expectedCount, len(entries), entries)
			}
			if tc.expectedCount != 1 {
				return
			}

			e := entries[0]
			if e.Front != tc.expectedFront {
				t.Errorf("Expected Front to be '%s', but got '%s'", tc.expectedFront, e.Front)
			}
			if e.Back != tc.expectedBack {
				t.Errorf("Expected Back to be '%s', but got '%s'", tc.expectedBack, e.Back)
			}
			if e.EntryType != tc.expectedType {
				t.Errorf("Expected type %s, but got %s", tc.expectedType, e.EntryType)
			}
			if e.Path != "notes/a.md" {
				t.Errorf("Expected path notes/a.md, but got %s", e.Path)
			}
			if e.ID != tc.expectedID {
				t.Errorf("Expected ID '%s', but got '%s'", tc.expectedID, e.ID)
			}
			if tc.expectedID == "" {
				if !e.IsNew {
					t.Error("Expected an id-less entry to be new")
				}
				if e.LineToAddID == nil || *e.LineToAddID != tc.expectedLineAt {
					t.Errorf("Expected LineToAddID %d, but got %v", tc.expectedLineAt, e.LineToAddID)
				}
			} else {
				if e.IsNew {
					t.Error("Expected an entry with an id not to be new")
				}
				if e.LineToAddID != nil {
					t.Errorf("Expected no LineToAddID, but got %d", *e.LineToAddID)
				}
			}
		})
	}
}

func TestExtractPackedInlineCards(t *testing.T) {
	input := "a :: 1\nb :: 2\nnot a card\nc [[SR/memory/AbCd1234.md|::]] 3\n\nd :: 4"
	entries := newExtractor(t).Extract(input, "n.md")

	if len(entries) != 4 {
		t.Fatalf("Expected 4 entries, but got %d", len(entries))
	}
	wantFronts := []string{"a", "b", "c", "d"}
	wantLines := []int{0, 1, -1, 5}
	for i, e := range entries {
		if e.Front != wantFronts[i] {
			t.Errorf("entry %d: expected front %q, got %q", i, wantFronts[i], e.Front)
		}
		if wantLines[i] < 0 {
			if e.LineToAddID != nil || e.ID != "AbCd1234" {
				t.Errorf("entry %d: expected id AbCd1234 without a line, got %q %v", i, e.ID, e.LineToAddID)
			}
			continue
		}
		if e.LineToAddID == nil || *e.LineToAddID != wantLines[i] {
			t.Errorf("entry %d: expected line %d, got %v", i, wantLines[i], e.LineToAddID)
		}
	}
}

func TestExtractCustomSeparators(t *testing.T) {
	entries, err := Extract("Q ==> A\n\nFront\n+++\nBack", "n.md", "==>", "+++")
	if err != nil {
		t.Fatalf("Extract() returned an unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, but got %d", len(entries))
	}
	if entries[0].Front != "Q" || entries[0].Back != "A" || entries[0].EntryType != domain.Inline {
		t.Errorf("Unexpected inline entry %+v", entries[0])
	}
	if entries[1].Front != "Front" || entries[1].Back != "Back" || entries[1].EntryType != domain.Multiline {
		t.Errorf("Unexpected multiline entry %+v", entries[1])
	}

	if _, err := Extract("x", "n.md", " ", "?"); err == nil {
		t.Error("Expected an error for a blank separator")
	}
}

func TestEmbedIDRoundTrip(t *testing.T) {
	x := newExtractor(t)
	input := "# Deck\n\nQ1 :: A1\n\nFront\n?\nBack\n"

	entries := x.Extract(input, "n.md")
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, but got %d", len(entries))
	}

	ids := []string{"AAAAaaa1", "BBBBbbb2"}
	content := input
	// Highest line first, as sync does.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		e.ID = ids[i]
		var err error
		content, err = x.EmbedID(content, e)
		if err != nil {
			t.Fatalf("EmbedID() returned an unexpected error: %v", err)
		}
	}

	want := "# Deck\n\nQ1 [[SR/memory/AAAAaaa1.md|::]] A1\n\nFront\n[[SR/memory/BBBBbbb2.md|?]]\nBack\n"
	if content != want {
		t.Fatalf("Unexpected content after embedding:\n%s", content)
	}

	reparsed := x.Extract(content, "n.md")
	if len(reparsed) != 2 {
		t.Fatalf("Expected 2 entries after embedding, but got %d", len(reparsed))
	}
	for i, e := range reparsed {
		if e.ID != ids[i] || e.IsNew {
			t.Errorf("entry %d: expected recovered id %s, got %q (new=%t)", i, ids[i], e.ID, e.IsNew)
		}
		if e.Front != entries[i].Front || e.Back != entries[i].Back {
			t.Errorf("entry %d: content changed to %q / %q", i, e.Front, e.Back)
		}
	}
}

func TestEmbedIDRejectsWrongLine(t *testing.T) {
	x := newExtractor(t)
	line := 0
	entry := domain.Entry{ID: "AbCd1234", EntryType: domain.Inline, LineToAddID: &line}

	if _, err := x.EmbedID("no separator here", entry); !errors.Is(err, ErrLineMismatch) {
		t.Errorf("Expected ErrLineMismatch, got %v", err)
	}

	line = 4
	if _, err := x.EmbedID("Q :: A", entry); err == nil {
		t.Error("Expected an error for a line out of range")
	}

	entry.LineToAddID = nil
	if _, err := x.EmbedID("Q :: A", entry); err == nil {
		t.Error("Expected an error for an entry without a line")
	}
}

func TestEmbedIDKeepsIndentation(t *testing.T) {
	x := newExtractor(t)
	line := 0
	entry := domain.Entry{ID: "AbCd1234", EntryType: domain.Inline, LineToAddID: &line}

	got, err := x.EmbedID("  - a::b :: c :: d", entry)
	if err != nil {
		t.Fatalf("EmbedID() returned an unexpected error: %v", err)
	}
	if !strings.HasPrefix(got, "  - a::b [[SR/memory/AbCd1234.md|::]] c :: d") {
		t.Errorf("Unexpected line %q", got)
	}
}

