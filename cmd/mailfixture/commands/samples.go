package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/busybox42/mailfixture/internal/samples"
	"github.com/spf13/cobra"
)

var samplesDir string

type samplesSendOptions struct {
	addr    string
	tlsMode string
}

var samplesSendOpts samplesSendOptions

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "List, show and send HTML email samples",
	Long: `Work with the HTML email sample catalog. The catalog directory holds an
index.json file and the sample documents under email-samples/.`,
}

var samplesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the samples in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog()
		if err != nil {
			return err
		}

		if len(catalog.EmailSamples) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No samples found")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tFEATURES")
		for _, s := range catalog.EmailSamples {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Name, strings.Join(s.Features, ", "))
		}
		return tw.Flush()
	},
}

var samplesShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print a sample's HTML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog()
		if err != nil {
			return err
		}
		sample, err := catalog.Find(args[0])
		if err != nil {
			return err
		}
		html, err := catalog.HTML(sample)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), html)
		return err
	},
}

var samplesSendCmd = &cobra.Command{
	Use:   "send ID",
	Short: "Send a sample to the SMTP server",
	Long: `Send a sample as an HTML email with a plain text alternative. The subject
carries the sample name and the send time.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog()
		if err != nil {
			return err
		}
		sample, err := catalog.Find(args[0])
		if err != nil {
			return err
		}
		html, err := catalog.HTML(sample)
		if err != nil {
			return err
		}

		f := samples.Fixture(sample, html, time.Now())
		f.From = cfg.Fixture.From
		f.To = cfg.Fixture.To

		senderConfig, err := senderConfigFromFlags(samplesSendOpts.addr, samplesSendOpts.tlsMode)
		if err != nil {
			return err
		}
		if err := sendFixture(cmd.Context(), senderConfig, f, cfg.Fixture.WebUI, cmd.OutOrStdout(), logger); err != nil {
			return &exitError{code: 1, err: err}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(samplesCmd)
	samplesCmd.AddCommand(samplesListCmd, samplesShowCmd, samplesSendCmd)

	samplesCmd.PersistentFlags().StringVar(&samplesDir, "dir", "", "Sample catalog directory (default from config, ./samples)")
	samplesSendCmd.Flags().StringVar(&samplesSendOpts.addr, "addr", "", "SMTP server address")
	samplesSendCmd.Flags().StringVar(&samplesSendOpts.tlsMode, "tls", "", "STARTTLS mode: required, opportunistic or none")
}

func loadCatalog() (*samples.Catalog, error) {
	dir := cfg.Samples.Dir
	if samplesDir != "" {
		dir = samplesDir
	}
	return samples.Load(dir)
}
