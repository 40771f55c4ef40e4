package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/busybox42/mailfixture/internal/fixture"
	"github.com/busybox42/mailfixture/internal/inspect"
	"github.com/busybox42/mailfixture/internal/mailhog"
	"github.com/spf13/cobra"
)

type inspectOptions struct {
	json   bool
	latest bool
}

var inspectOpts inspectOptions

var inspectCmd = &cobra.Command{
	Use:   "inspect [file|-]",
	Short: "Count the accessibility relevant elements of an HTML document",
	Long: `Count headings, images, links, forms and buttons of an HTML document and
list common accessibility issues.

Without arguments the built-in fixture is inspected. A file argument, or "-"
for stdin, inspects that document. --latest inspects the HTML body of the
latest captured message.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		document, err := inspectSource(cmd, args)
		if err != nil {
			return err
		}

		census, err := inspect.AnalyzeString(document)
		if err != nil {
			return err
		}

		if inspectOpts.json {
			return inspect.WriteJSON(cmd.OutOrStdout(), census)
		}
		return inspect.WriteText(cmd.OutOrStdout(), census)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVar(&inspectOpts.json, "json", false, "Print the census as JSON")
	inspectCmd.Flags().BoolVar(&inspectOpts.latest, "latest", false, "Inspect the latest captured message")
}

func inspectSource(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case inspectOpts.latest && len(args) > 0:
		return "", fmt.Errorf("--latest cannot be combined with a file argument")
	case inspectOpts.latest:
		client, err := newMailHogClient()
		if err != nil {
			return "", err
		}
		msg, err := client.Latest(cmd.Context())
		if err != nil {
			return "", err
		}
		html := mailhog.HTMLBody(msg)
		if err := fixture.ValidateHTML(html); err != nil {
			return "", fmt.Errorf("message %s: %w", msg.ID, err)
		}
		return html, nil
	case len(args) == 0:
		return fixture.HTML, nil
	case args[0] == "-":
		return readDocument(cmd.InOrStdin())
	default:
		f, err := os.Open(args[0])
		if err != nil {
			return "", err
		}
		defer f.Close()
		return readDocument(f)
	}
}

// readDocument reads at most one byte past the HTML size limit so oversized
// input is rejected without reading all of it
func readDocument(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, fixture.MaxHTMLSize+1))
	if err != nil {
		return "", err
	}
	document := string(data)
	if err := fixture.ValidateHTML(document); err != nil {
		return "", err
	}
	return document, nil
}
