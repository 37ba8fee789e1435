package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"driftwatch/internal/engine"
	"driftwatch/internal/reconcile"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a single reconciliation cycle and print the report",
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, slogger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	e, err := engine.New(cfg, slogger)
	if err != nil {
		return err
	}

	report, err := e.ReconcileOnce(context.Background())
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

func printReport(r reconcile.Report) {
	if r.Deferred {
		fmt.Println("deferred: registry lock busy, try again")
		return
	}
	if r.Empty() {
		fmt.Println("up to date: nothing to reconcile")
		return
	}

	for _, k := range r.Adds {
		fmt.Printf("added     %s\n", k)
	}
	for _, k := range r.Updates {
		fmt.Printf("updated   %s\n", k)
	}
	for _, k := range r.Removals {
		fmt.Printf("removed   %s\n", k)
	}
	for _, k := range r.PendingRemovals {
		fmt.Printf("pending   %s (removal confirms next cycle)\n", k)
	}
	for _, c := range r.Conflicts {
		fmt.Printf("conflict  %s: local %s replaced registry %s\n", c.Key, c.LocalHash, c.RegistryHash)
	}
	for _, s := range r.Skipped {
		fmt.Printf("skipped   %s: %s\n", s.Key, s.Reason)
	}
	if r.RegistryBackup != "" {
		fmt.Printf("registry backup: %s\n", r.RegistryBackup)
	}
}
