package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for p, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
}

func newVault(t *testing.T, files map[string]string, dryRun bool) (*Vault, string) {
	t.Helper()
	root := t.TempDir()
	writeFiles(t, root, files)
	v, err := New(root, Options{MemoryDir: "SR", DryRun: dryRun})
	require.NoError(t, err)
	return v, root
}

func TestNotes(t *testing.T) {
	v, _ := newVault(t, map[string]string{
		"a.md":              "",
		"geo/peru.md":       "",
		"geo/image.png":     "",
		"SR/memory/x.md":    "",
		"SR/deck.md":        "",
		".obsidian/conf.md": "",
		"SRS/kept.md":       "",
	}, false)

	notes, err := v.Notes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SRS/kept.md", "a.md", "geo/peru.md"}, notes)
}

func TestIsNote(t *testing.T) {
	v, _ := newVault(t, nil, false)
	testCases := map[string]bool{
		"a.md":           true,
		"deep/er/b.MD":   true,
		"a.txt":          false,
		"SR/memory/x.md": false,
		"SR/deck.md":     false,
		".trash/old.md":  false,
	}
	for p, want := range testCases {
		assert.Equal(t, want, v.IsNote(p), p)
	}
}

func TestEdit(t *testing.T) {
	v, root := newVault(t, map[string]string{"n.md": "one\ntwo\nthree"}, false)

	err := v.Edit("n.md", func(content string) (string, error) {
		return strings.Replace(content, "two", "TWO", 1), nil
	})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(root, "n.md"))
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\nthree", string(b))

	boom := errors.New("boom")
	err = v.Edit("n.md", func(string) (string, error) { return "lost", boom })
	assert.ErrorIs(t, err, boom)
	b, err = os.ReadFile(filepath.Join(root, "n.md"))
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\nthree", string(b), "a failed edit writes nothing")

	err = v.Edit("missing.md", func(c string) (string, error) { return c, nil })
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestConcurrentEditsKeepEveryChange(t *testing.T) {
	v, root := newVault(t, map[string]string{"n.md": "---\ntitle: n\n---\nbody\n"}, false)

	const workers = 20
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.Edit("n.md", func(content string) (string, error) {
				return content + fmt.Sprintf("line %d\n", i), nil
			}))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, v.WriteMeta("n.md", func(meta map[string]any) error {
				meta[fmt.Sprintf("key-%d", i)] = i
				return nil
			}))
		}()
	}
	wg.Wait()

	b, err := os.ReadFile(filepath.Join(root, "n.md"))
	require.NoError(t, err)
	meta, err := v.ReadMeta("n.md")
	require.NoError(t, err)
	for i := range workers {
		assert.Contains(t, string(b), fmt.Sprintf("line %d\n", i))
		assert.Equal(t, i, meta[fmt.Sprintf("key-%d", i)])
	}
}

func TestDryRunKeepsFilesAndRecordsPatch(t *testing.T) {
	v, root := newVault(t, map[string]string{"n.md": "Q :: A\nother\n"}, true)

	require.NoError(t, v.Edit("n.md", func(string) (string, error) {
		return "Q [[SR/memory/AbCd1234.md|::]] A\nother\n", nil
	}))

	b, err := os.ReadFile(filepath.Join(root, "n.md"))
	require.NoError(t, err)
	assert.Equal(t, "Q :: A\nother\n", string(b), "file untouched")

	got, err := v.Read("n.md")
	require.NoError(t, err)
	assert.Contains(t, got, "AbCd1234", "reads see the held-back write")

	patches := v.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, "n.md", patches[0].Path)
	assert.Equal(t, "-Q :: A\n+Q [[SR/memory/AbCd1234.md|::]] A\n", patches[0].Text)
	assert.Contains(t, patches[0].String(), "+++ b/n.md")
}

func TestReadMeta(t *testing.T) {
	v, _ := newVault(t, map[string]string{
		"plain.md": "# Title\n",
		"meta.md":  "---\nsr-due: 2024-03-02\nsr-reps: 3\nsr-stability: 2.5\ntags: [a, b]\n---\nBody\n",
	}, false)

	meta, err := v.ReadMeta("plain.md")
	require.NoError(t, err)
	assert.Empty(t, meta)

	meta, err = v.ReadMeta("meta.md")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02", meta["sr-due"])
	assert.Equal(t, 3, meta["sr-reps"])
	assert.Equal(t, 2.5, meta["sr-stability"])
}

func TestWriteMetaPreservesBodyAndOrder(t *testing.T) {
	original := "---\ntitle: Peru\nsr-reps: 1\n---\n# Peru\n\nCapital :: Lima\n---\n"
	v, root := newVault(t, map[string]string{"n.md": original}, false)

	err := v.WriteMeta("n.md", func(meta map[string]any) error {
		meta["sr-reps"] = 2
		meta["sr-state"] = 2
		meta["sr-due"] = "2024-03-05"
		return nil
	})
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(root, "n.md"))
	require.NoError(t, err)
	want := "---\ntitle: Peru\nsr-reps: 2\nsr-due: \"2024-03-05\"\nsr-state: 2\n---\n# Peru\n\nCapital :: Lima\n---\n"
	assert.Equal(t, want, string(b))

	meta, err := v.ReadMeta("n.md")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", meta["sr-due"])
}

func TestWriteMetaAddsFrontmatter(t *testing.T) {
	v, root := newVault(t, map[string]string{"n.md": "Just a body\n"}, false)

	require.NoError(t, v.WriteMeta("n.md", func(meta map[string]any) error {
		meta["sr-exclude"] = true
		return nil
	}))

	b, err := os.ReadFile(filepath.Join(root, "n.md"))
	require.NoError(t, err)
	assert.Equal(t, "---\nsr-exclude: true\n---\nJust a body\n", string(b))
}

func TestSplitFrontmatter(t *testing.T) {
	testCases := []struct {
		name      string
		content   string
		wantFront string
		wantBody  string
		wantOK    bool
	}{
		{name: "none", content: "body", wantBody: "body"},
		{name: "unterminated", content: "---\na: 1\nbody", wantBody: "---\na: 1\nbody"},
		{name: "empty", content: "---\n---\nbody", wantBody: "body", wantOK: true},
		{name: "at end", content: "---\na: 1\n---", wantFront: "a: 1\n", wantOK: true},
		{name: "crlf", content: "---\r\na: 1\r\n---\r\nbody", wantFront: "a: 1\r\n", wantBody: "body", wantOK: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			front, body, ok := splitFrontmatter(tc.content)
			assert.Equal(t, tc.wantFront, front)
			assert.Equal(t, tc.wantBody, body)
			assert.Equal(t, tc.wantOK, ok)
		})
	}
}
