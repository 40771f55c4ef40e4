package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/busybox42/mailfixture/internal/mailhog"
	"github.com/spf13/cobra"
)

var (
	apiURL     string
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the message count and latest message of a capture API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newMailHogClient()
		if err != nil {
			return err
		}

		status, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if statusJSON {
			encoder := json.NewEncoder(w)
			encoder.SetIndent("", "  ")
			return encoder.Encode(status)
		}

		printSuccess(w, "✅ MailHog is reachable at %s", status.URL)
		printField(w, "📬", "Messages", status.MessageCount)
		if status.Latest != nil {
			printField(w, "📧", "Latest", fmt.Sprintf("%s (from %s, %s)",
				status.Latest.Subject, status.Latest.From, status.Latest.Received.Local().Format(time.RFC1123)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Capture API base URL (default from config, http://localhost:8025)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status as JSON")
}

// newMailHogClient builds an API client from config and the --api-url flag
func newMailHogClient() (*mailhog.Client, error) {
	clientConfig := cfg.MailHogConfig()
	if apiURL != "" {
		clientConfig.URL = apiURL
	}
	return mailhog.NewClient(clientConfig, logger)
}
