package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// WriteText prints the census as aligned name/value lines
func WriteText(w io.Writer, c *Census) error {
	levels := make([]string, 0, len(c.Headings))
	for level := range c.Headings {
		levels = append(levels, level)
	}
	sort.Strings(levels)

	lines := [][2]string{}
	if c.Title != "" {
		lines = append(lines, [2]string{"Title", c.Title})
	}
	for _, level := range levels {
		lines = append(lines, [2]string{"Headings " + level, fmt.Sprint(c.Headings[level])})
	}
	lines = append(lines,
		[2]string{"Outer-level h1", fmt.Sprint(c.OuterH1)},
		[2]string{"Images", fmt.Sprintf("%d (%d missing alt)", c.Images, c.ImagesMissingAlt)},
		[2]string{"Anchors", fmt.Sprintf("%d (%d vague)", c.Anchors, c.VagueLinks)},
		[2]string{"Forms", fmt.Sprint(c.Forms)},
		[2]string{"Inputs", fmt.Sprintf("%d (%d unlabeled)", c.Inputs, c.UnlabeledInputs)},
		[2]string{"Form buttons", fmt.Sprint(c.FormButtons)},
		[2]string{"Standalone buttons", fmt.Sprint(c.StandaloneButtons)},
		[2]string{"Empty buttons", fmt.Sprint(c.EmptyButtons)},
	)

	for _, line := range lines {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", line[0]+":", line[1]); err != nil {
			return err
		}
	}

	issues := c.Issues()
	if len(issues) == 0 {
		_, err := fmt.Fprintln(w, "No issues found")
		return err
	}

	if _, err := fmt.Fprintf(w, "Issues (%d):\n", len(issues)); err != nil {
		return err
	}
	for _, issue := range issues {
		if _, err := fmt.Fprintf(w, "  - %s\n", issue); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON prints the census as indented JSON
func WriteJSON(w io.Writer, c *Census) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}
