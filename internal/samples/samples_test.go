package samples

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/busybox42/mailfixture/internal/fixture"
	"github.com/busybox42/mailfixture/internal/inspect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCatalog creates a samples directory with the given index and files
func writeCatalog(t *testing.T, index string, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte(index), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, FilesDir), 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, FilesDir, name), []byte(content), 0o644))
	}
	return dir
}

const testIndex = `{
  "emailSamples": [
    {"id": "one", "name": "One", "description": "First", "features": ["a", "b"], "file": "one.html"},
    {"id": "empty", "name": "Empty", "description": "Blank file", "features": [], "file": "empty.html"},
    {"id": "missing", "name": "Missing", "description": "No file", "features": [], "file": "missing.html"},
    {"id": "escape", "name": "Escape", "description": "Outside", "features": [], "file": "../index.json"}
  ]
}`

func TestLoad(t *testing.T) {
	dir := writeCatalog(t, testIndex, map[string]string{
		"one.html":   "<h1>One</h1>",
		"empty.html": "   ",
	})

	catalog, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, catalog.EmailSamples, 4)
	assert.Equal(t, dir, catalog.Dir())

	t.Run("Find", func(t *testing.T) {
		s, err := catalog.Find("one")
		require.NoError(t, err)
		assert.Equal(t, "One", s.Name)
		assert.Equal(t, []string{"a", "b"}, s.Features)

		_, err = catalog.Find("nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("HTML", func(t *testing.T) {
		s, _ := catalog.Find("one")
		html, err := catalog.HTML(s)
		require.NoError(t, err)
		assert.Equal(t, "<h1>One</h1>", html)
	})

	t.Run("Empty HTML", func(t *testing.T) {
		s, _ := catalog.Find("empty")
		_, err := catalog.HTML(s)
		assert.ErrorIs(t, err, fixture.ErrEmptyHTML)
	})

	t.Run("Missing file", func(t *testing.T) {
		s, _ := catalog.Find("missing")
		_, err := catalog.HTML(s)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("Path outside catalog", func(t *testing.T) {
		s, _ := catalog.Find("escape")
		_, err := catalog.HTML(s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outside the samples directory")
	})
}

func TestHTMLTooLarge(t *testing.T) {
	dir := writeCatalog(t,
		`{"emailSamples":[{"id":"big","name":"Big","file":"big.html"}]}`,
		map[string]string{"big.html": strings.Repeat("x", fixture.MaxHTMLSize+1)})

	catalog, err := Load(dir)
	require.NoError(t, err)

	s, err := catalog.Find("big")
	require.NoError(t, err)

	_, err = catalog.HTML(s)
	assert.ErrorIs(t, err, fixture.ErrHTMLTooLarge)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		index string
		want  string
	}{
		{"invalid JSON", `{"emailSamples": [`, "failed to parse sample index"},
		{"missing id", `{"emailSamples":[{"name":"x"}]}`, "has no id"},
		{"duplicate id", `{"emailSamples":[{"id":"a"},{"id":"a"}]}`, "duplicate sample id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeCatalog(t, tt.index, nil))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("missing directory", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestFixture(t *testing.T) {
	s := &Sample{
		ID:          "one",
		Name:        "One",
		Description: "First sample",
		Features:    []string{"alt text", "labels"},
	}
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("CEST", 2*3600))

	f := Fixture(s, "<p>hi</p>", now)
	assert.Equal(t, fixture.DefaultFrom, f.From)
	assert.Equal(t, fixture.DefaultTo, f.To)
	assert.Equal(t, "Sample Test: One - 2024-05-01T10:30:00Z", f.Subject)
	assert.Equal(t, "<p>hi</p>", f.HTML)
	assert.Equal(t, "Test sample: One\nDescription: First sample\nFeatures: alt text, labels", f.Text)
}

func TestShippedCatalog(t *testing.T) {
	catalog, err := Load(filepath.Join("..", "..", "samples"))
	require.NoError(t, err)
	require.NotEmpty(t, catalog.EmailSamples)

	for i := range catalog.EmailSamples {
		s := &catalog.EmailSamples[i]
		t.Run(s.ID, func(t *testing.T) {
			html, err := catalog.HTML(s)
			require.NoError(t, err)

			census, err := inspect.AnalyzeString(html)
			require.NoError(t, err)
			assert.NotEmpty(t, census.Title)
		})
	}

	t.Run("Fixture sample matches built-in fixture", func(t *testing.T) {
		s, err := catalog.Find("simple-fixture")
		require.NoError(t, err)
		html, err := catalog.HTML(s)
		require.NoError(t, err)
		assert.Equal(t, strings.TrimSpace(fixture.HTML), strings.TrimSpace(html))
	})

	t.Run("Accessible sample has no issues", func(t *testing.T) {
		s, err := catalog.Find("accessible-newsletter")
		require.NoError(t, err)
		html, err := catalog.HTML(s)
		require.NoError(t, err)

		census, err := inspect.AnalyzeString(html)
		require.NoError(t, err)
		assert.Empty(t, census.Issues())
	})
}
