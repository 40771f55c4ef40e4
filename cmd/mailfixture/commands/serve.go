package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/busybox42/mailfixture/internal/api"
	"github.com/busybox42/mailfixture/internal/config"
	"github.com/busybox42/mailfixture/internal/smtp"
	"github.com/busybox42/mailfixture/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	smtpListen string
	httpListen string
	storeType  string
	sqlitePath string
	noStartTLS bool
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local mail capture server",
	Long: `Run an SMTP listener that accepts and stores every message, together with
an HTTP server exposing the captured messages through a MailHog compatible API,
a minimal web UI and Prometheus metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveOpts.smtpListen, "smtp-listen", "", "SMTP listen address (default 127.0.0.1:1025)")
	serveCmd.Flags().StringVar(&serveOpts.httpListen, "http-listen", "", "HTTP listen address (default 127.0.0.1:8025)")
	serveCmd.Flags().StringVar(&serveOpts.storeType, "store", "", "Message store: memory or sqlite")
	serveCmd.Flags().StringVar(&serveOpts.sqlitePath, "sqlite-path", "", "Database file for the sqlite store")
	serveCmd.Flags().BoolVar(&serveOpts.noStartTLS, "no-starttls", false, "Do not advertise STARTTLS")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveOpts.smtpListen != "" {
		cfg.Capture.SMTPListen = serveOpts.smtpListen
	}
	if serveOpts.httpListen != "" {
		cfg.Capture.HTTPListen = serveOpts.httpListen
	}
	if serveOpts.storeType != "" {
		cfg.Capture.Store = serveOpts.storeType
	}
	if serveOpts.sqlitePath != "" {
		cfg.Capture.SQLitePath = serveOpts.sqlitePath
	}
	if serveOpts.noStartTLS {
		cfg.Capture.StartTLS = false
	}
	if err := cfg.Validate().Err(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serveCapture(ctx, cfg, cmd.OutOrStdout(), logger, nil)
}

// serveCapture runs the capture SMTP and HTTP servers until ctx is
// cancelled or either server fails. ready, when set, is called once both
// listeners are bound.
func serveCapture(ctx context.Context, c *config.Config, w io.Writer, logger *slog.Logger, ready func(smtpAddr, httpAddr string)) error {
	st, err := store.New(c.StoreConfig())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	smtpServer, err := smtp.NewServer(c.CaptureConfig(), st, logger)
	if err != nil {
		return err
	}
	apiServer, err := api.NewServer(c.APIConfig(Version), st, logger)
	if err != nil {
		return err
	}

	if err := smtpServer.Listen(); err != nil {
		return err
	}
	if err := apiServer.Listen(); err != nil {
		_ = smtpServer.Close()
		return err
	}

	smtpAddr := smtpServer.Addr().String()
	httpAddr := apiServer.Addr().String()
	printSuccess(w, "📬 Capturing SMTP on %s (STARTTLS: %t)", smtpAddr, c.Capture.StartTLS)
	fmt.Fprintf(w, "🔗 Web UI and API: http://%s\n", httpAddr)
	if ready != nil {
		ready(smtpAddr, httpAddr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return smtpServer.Run(gctx) })
	g.Go(func() error { return apiServer.Run(gctx) })

	err = g.Wait()
	fmt.Fprintf(w, "Stopped after capturing %d message(s)\n", smtpServer.Received())
	return err
}
