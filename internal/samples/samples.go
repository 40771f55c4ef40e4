// Package samples reads the catalog of HTML test emails kept next to the
// fixture and turns catalog entries into sendable fixtures.
package samples

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/busybox42/mailfixture/internal/fixture"
)

const (
	// IndexFile is the catalog file name inside the samples directory
	IndexFile = "index.json"
	// FilesDir holds the HTML files the catalog refers to
	FilesDir = "email-samples"
)

// ErrNotFound is returned for IDs that are not in the catalog
var ErrNotFound = errors.New("sample not found")

// Sample describes one HTML test email
type Sample struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Features    []string `json:"features"`
	File        string   `json:"file"`
}

// Catalog is the parsed index.json of a samples directory
type Catalog struct {
	EmailSamples []Sample `json:"emailSamples"`

	dir string
}

// Load reads dir/index.json
func Load(dir string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read sample index: %w", err)
	}

	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse sample index: %w", err)
	}

	seen := make(map[string]bool, len(catalog.EmailSamples))
	for i, s := range catalog.EmailSamples {
		if s.ID == "" {
			return nil, fmt.Errorf("sample %d has no id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate sample id %q", s.ID)
		}
		seen[s.ID] = true
	}

	catalog.dir = dir
	return &catalog, nil
}

// Dir returns the directory the catalog was loaded from
func (c *Catalog) Dir() string {
	return c.dir
}

// Find returns the sample with the given ID
func (c *Catalog) Find(id string) (*Sample, error) {
	for i := range c.EmailSamples {
		if c.EmailSamples[i].ID == id {
			return &c.EmailSamples[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// HTML reads and validates the sample's HTML file
func (c *Catalog) HTML(s *Sample) (string, error) {
	if !filepath.IsLocal(s.File) {
		return "", fmt.Errorf("sample %s: file %q is outside the samples directory", s.ID, s.File)
	}

	path := filepath.Join(c.dir, FilesDir, s.File)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("sample %s: %w", s.ID, err)
	}
	if info.Size() > fixture.MaxHTMLSize {
		return "", fmt.Errorf("sample %s: %w", s.ID, fixture.ErrHTMLTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("sample %s: %w", s.ID, err)
	}

	html := string(data)
	if err := fixture.ValidateHTML(html); err != nil {
		return "", fmt.Errorf("sample %s: %w", s.ID, err)
	}
	return html, nil
}

// Fixture builds the test email for a sample. The subject carries the
// send time so repeated sends are told apart.
func Fixture(s *Sample, html string, now time.Time) fixture.Fixture {
	f := fixture.Default()
	f.Subject = fmt.Sprintf("Sample Test: %s - %s", s.Name, now.UTC().Format(time.RFC3339))
	f.HTML = html
	f.Text = fmt.Sprintf("Test sample: %s\nDescription: %s\nFeatures: %s",
		s.Name, s.Description, strings.Join(s.Features, ", "))
	return f
}
