package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/busybox42/mailfixture/internal/inspect"
	"github.com/busybox42/mailfixture/internal/watch"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	interval        time.Duration
	includeExisting bool
}

var watchOpts watchOptions

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Inspect new captured messages as they arrive",
	Long: `Poll the capture API for the latest message. Each new message addressed to
the test recipient is inspected and its census printed. The message that is
newest when watching starts is skipped unless --include-existing is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newMailHogClient()
		if err != nil {
			return err
		}

		watchConfig := cfg.WatchConfig()
		if watchOpts.interval > 0 {
			watchConfig.Interval = watchOpts.interval
		}
		if watchOpts.includeExisting {
			watchConfig.IncludeExisting = true
		}

		w := cmd.OutOrStdout()
		watcher, err := watch.New(watchConfig, client, printEvent(w), logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(w, "👀 Watching %s for mail to %s (%s)\n", client.URL(), watchConfig.Recipient, watcher.Schedule())
		return watcher.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchOpts.interval, "interval", 0, "Poll interval (default from config, 2s)")
	watchCmd.Flags().BoolVar(&watchOpts.includeExisting, "include-existing", false, "Inspect the message that is newest at start")
}

// printEvent reports new, skipped and failed polls. Unchanged and empty
// polls are silent.
func printEvent(w io.Writer) watch.Handler {
	return func(event watch.Event) {
		switch event.Kind {
		case watch.KindNew:
			printSuccess(w, "📧 New message %s: %s", event.Message.ID, event.Message.Subject())
			if err := inspect.WriteText(w, event.Census); err != nil {
				printError(w, "❌ Error printing census: %v", err)
			}
			fmt.Fprintln(w)
		case watch.KindSkipped:
			printWarn(w, "⏭️  Skipped message %s: %s", event.Message.ID, event.Reason)
		case watch.KindError:
			printError(w, "❌ Poll failed: %v", event.Err)
		}
	}
}
