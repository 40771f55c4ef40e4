// Package inspect counts the HTML elements an accessibility scanner looks at
// and flags the common problems the fixture email is built to contain.
package inspect

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// vagueLinkText lists link texts that say nothing about the target
var vagueLinkText = map[string]bool{
	"click here": true,
	"here":       true,
	"learn more": true,
	"more":       true,
	"read more":  true,
	"link":       true,
}

// Census holds element counts for one HTML document
type Census struct {
	Title             string         `json:"title,omitempty"`
	Headings          map[string]int `json:"headings"`
	OuterH1           int            `json:"outer_h1"`
	Images            int            `json:"images"`
	ImagesMissingAlt  int            `json:"images_missing_alt"`
	Anchors           int            `json:"anchors"`
	VagueLinks        int            `json:"vague_links"`
	Forms             int            `json:"forms"`
	Inputs            int            `json:"inputs"`
	UnlabeledInputs   int            `json:"unlabeled_inputs"`
	FormButtons       int            `json:"form_buttons"`
	StandaloneButtons int            `json:"standalone_buttons"`
	EmptyButtons      int            `json:"empty_buttons"`
	SkippedHeadings   []string       `json:"skipped_headings"`
}

// Buttons returns the number of button elements inside and outside forms
func (c *Census) Buttons() int {
	return c.FormButtons + c.StandaloneButtons
}

// Issues describes the accessibility problems found, one per line
func (c *Census) Issues() []string {
	var issues []string
	if c.ImagesMissingAlt > 0 {
		issues = append(issues, fmt.Sprintf("%d image(s) without alt text", c.ImagesMissingAlt))
	}
	if c.UnlabeledInputs > 0 {
		issues = append(issues, fmt.Sprintf("%d input(s) without a label", c.UnlabeledInputs))
	}
	if c.VagueLinks > 0 {
		issues = append(issues, fmt.Sprintf("%d link(s) with non-descriptive text", c.VagueLinks))
	}
	if c.EmptyButtons > 0 {
		issues = append(issues, fmt.Sprintf("%d button(s) without an accessible name", c.EmptyButtons))
	}
	for _, skip := range c.SkippedHeadings {
		issues = append(issues, "skipped heading level "+skip)
	}
	return issues
}

// Analyze parses an HTML document and counts its elements
func Analyze(r io.Reader) (*Census, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	w := &walker{
		census: &Census{
			Headings:        make(map[string]int),
			SkippedHeadings: []string{},
		},
		labelFor: make(map[string]bool),
	}
	w.walk(doc, false, false)
	w.finish()

	return w.census, nil
}

// AnalyzeString is Analyze for an in-memory document
func AnalyzeString(document string) (*Census, error) {
	return Analyze(strings.NewReader(document))
}

type walker struct {
	census      *Census
	lastHeading int
	labelFor    map[string]bool
	inputs      []*html.Node
}

func (w *walker) walk(n *html.Node, inForm, inLabel bool) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Title:
			if w.census.Title == "" {
				w.census.Title = strings.TrimSpace(textContent(n))
			}
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			w.heading(n)
		case atom.Img:
			w.census.Images++
			if _, ok := attr(n, "alt"); !ok {
				w.census.ImagesMissingAlt++
			}
		case atom.A:
			w.census.Anchors++
			if vagueLinkText[strings.ToLower(strings.TrimSpace(textContent(n)))] {
				w.census.VagueLinks++
			}
		case atom.Form:
			w.census.Forms++
			inForm = true
		case atom.Label:
			if id, ok := attr(n, "for"); ok && id != "" {
				w.labelFor[id] = true
			}
			inLabel = true
		case atom.Input:
			w.census.Inputs++
			if !inLabel && needsLabel(n) {
				w.inputs = append(w.inputs, n)
			}
		case atom.Button:
			if inForm {
				w.census.FormButtons++
			} else {
				w.census.StandaloneButtons++
			}
			if !hasAccessibleName(n) {
				w.census.EmptyButtons++
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, inForm, inLabel)
	}
}

func (w *walker) heading(n *html.Node) {
	level := int(n.Data[1] - '0')
	w.census.Headings[n.Data]++

	if n.DataAtom == atom.H1 && n.Parent != nil && n.Parent.DataAtom == atom.Body {
		w.census.OuterH1++
	}

	if level > w.lastHeading+1 {
		from := "start"
		if w.lastHeading > 0 {
			from = fmt.Sprintf("h%d", w.lastHeading)
		}
		w.census.SkippedHeadings = append(w.census.SkippedHeadings, fmt.Sprintf("%s -> %s", from, n.Data))
	}
	w.lastHeading = level
}

// finish resolves labels that reference inputs declared before them
func (w *walker) finish() {
	for _, input := range w.inputs {
		if id, ok := attr(input, "id"); ok && w.labelFor[id] {
			continue
		}
		w.census.UnlabeledInputs++
	}
}

func needsLabel(n *html.Node) bool {
	if kind, _ := attr(n, "type"); kind == "hidden" || kind == "submit" || kind == "button" || kind == "reset" || kind == "image" {
		return false
	}
	for _, name := range []string{"aria-label", "aria-labelledby", "title"} {
		if v, ok := attr(n, name); ok && strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func hasAccessibleName(n *html.Node) bool {
	if strings.TrimSpace(textContent(n)) != "" {
		return true
	}
	for _, name := range []string{"aria-label", "aria-labelledby", "title"} {
		if v, ok := attr(n, name); ok && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return b.String()
}
