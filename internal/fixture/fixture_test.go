package fixture

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	f := Default()

	assert.Equal(t, "test@example.com", f.From)
	assert.Equal(t, "test@local.test", f.To)
	assert.Equal(t, "Test HTML Email for Accessibility Scanner", f.Subject)
	assert.Empty(t, f.Text)
	assert.Contains(t, f.HTML, "Welcome to Our Newsletter")
	assert.Contains(t, f.HTML, "<form>")
}

func TestHTMLFixture(t *testing.T) {
	assert.Equal(t, 2, strings.Count(HTML, "<h1>"))
	assert.Equal(t, 1, strings.Count(HTML, "<img "))
	assert.Equal(t, 1, strings.Count(HTML, "<form>"))
	assert.Equal(t, 2, strings.Count(HTML, "<input "))
	assert.Equal(t, 2, strings.Count(HTML, "<a href=\"#\">"))
	assert.NoError(t, ValidateHTML(HTML))
}

func TestValidateHTML(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		wantErr error
	}{
		{"valid", "<p>hello</p>", nil},
		{"empty", "", ErrEmptyHTML},
		{"whitespace", " \n\t ", ErrEmptyHTML},
		{"at limit", strings.Repeat("a", MaxHTMLSize), nil},
		{"over limit", strings.Repeat("a", MaxHTMLSize+1), ErrHTMLTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHTML(tt.html)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
