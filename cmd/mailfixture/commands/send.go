package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/busybox42/mailfixture/internal/delivery"
	"github.com/busybox42/mailfixture/internal/fixture"
	"github.com/busybox42/mailfixture/internal/message"
	"github.com/spf13/cobra"
)

type sendOptions struct {
	addr    string
	from    string
	to      string
	subject string
	tlsMode string
	strict  bool
}

var sendOpts sendOptions

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send the HTML fixture email",
	Long: `Send the built-in HTML fixture email to the local SMTP server.

The message is upgraded with STARTTLS before it is submitted. A failure is
reported on one line and does not change the exit status unless --strict
is given.`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendOpts.addr, "addr", "", "SMTP server address (default from config, localhost:1025)")
	sendCmd.Flags().StringVar(&sendOpts.from, "from", "", "Sender address")
	sendCmd.Flags().StringVar(&sendOpts.to, "to", "", "Recipient address")
	sendCmd.Flags().StringVar(&sendOpts.subject, "subject", "", "Subject line")
	sendCmd.Flags().StringVar(&sendOpts.tlsMode, "tls", "", "STARTTLS mode: required, opportunistic or none")
	sendCmd.Flags().BoolVar(&sendOpts.strict, "strict", false, "Exit non-zero when sending fails")
}

func runSend(cmd *cobra.Command, args []string) error {
	f := cfg.FixtureMessage()
	if sendOpts.from != "" {
		f.From = sendOpts.from
	}
	if sendOpts.to != "" {
		f.To = sendOpts.to
	}
	if sendOpts.subject != "" {
		f.Subject = sendOpts.subject
	}

	senderConfig, err := senderConfigFromFlags(sendOpts.addr, sendOpts.tlsMode)
	if err != nil {
		return err
	}

	err = sendFixture(cmd.Context(), senderConfig, f, cfg.Fixture.WebUI, cmd.OutOrStdout(), logger)
	if err != nil && sendOpts.strict {
		return &exitError{code: 1, err: err}
	}
	return nil
}

// senderConfigFromFlags applies the --addr and --tls values over the
// configured sender
func senderConfigFromFlags(addr, tlsMode string) (delivery.Config, error) {
	senderConfig := cfg.SenderConfig()
	if addr != "" {
		senderConfig.Addr = addr
	}
	if tlsMode != "" {
		mode, err := delivery.ParseTLSMode(tlsMode)
		if err != nil {
			return senderConfig, err
		}
		senderConfig.TLSMode = mode
	}
	return senderConfig, nil
}

// sendFixture composes and submits f, writing the status lines to w. Any
// failure is printed as a single line and returned.
func sendFixture(ctx context.Context, senderConfig delivery.Config, f fixture.Fixture, webUI string, w io.Writer, logger *slog.Logger) error {
	err := func() error {
		msg, err := message.Compose(f, senderConfig.HeloName)
		if err != nil {
			return err
		}
		return delivery.NewSender(senderConfig, logger).Send(ctx, msg)
	}()
	if err != nil {
		printError(w, "❌ Error sending email: %v", err)
		return err
	}

	printSuccess(w, "✅ Test email sent successfully!")
	printField(w, "📧", "From", f.From)
	printField(w, "📧", "To", f.To)
	printField(w, "📧", "Subject", f.Subject)
	fmt.Fprintf(w, "🔗 Check MailHog UI: %s\n", webUI)
	return nil
}
