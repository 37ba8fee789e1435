package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"driftwatch/internal/auditlog"
	"driftwatch/internal/report"
)

var reportSince time.Duration

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().DurationVar(&reportSince, "since", 24*time.Hour, "Reporting window, e.g. 2h, 7d expressed as 168h")
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a Markdown audit report to stdout",
	RunE:  runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadInspectConfig()
	if err != nil {
		return err
	}

	log, err := auditlog.Open(cfg.Audit.Path, cfg.Audit.MaxEntries)
	if err != nil {
		return err
	}
	defer log.Close()

	return report.Write(os.Stdout, log, report.Options{
		Since: time.Now().Add(-reportSince),
	})
}
