package commands

import (
	"github.com/busybox42/mailfixture/internal/mailhog"
	"github.com/busybox42/mailfixture/internal/store"
	"github.com/spf13/cobra"
)

type latestOptions struct {
	id  string
	raw bool
}

var latestOpts latestOptions

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the HTML body of the latest captured message",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newMailHogClient()
		if err != nil {
			return err
		}

		var msg *store.Message
		if latestOpts.id != "" {
			msg, err = client.Message(cmd.Context(), latestOpts.id)
		} else {
			msg, err = client.Latest(cmd.Context())
		}
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if latestOpts.raw {
			_, err = w.Write([]byte(msg.Raw.Data))
			return err
		}

		html := mailhog.HTMLBody(msg)
		if html == "" {
			printWarn(cmd.ErrOrStderr(), "Message %s has no HTML content", msg.ID)
			return nil
		}
		_, err = w.Write([]byte(html))
		return err
	},
}

func init() {
	rootCmd.AddCommand(latestCmd)

	latestCmd.Flags().StringVar(&latestOpts.id, "id", "", "Fetch this message instead of the latest")
	latestCmd.Flags().BoolVar(&latestOpts.raw, "raw", false, "Print the raw message as received")
}
