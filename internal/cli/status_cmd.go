package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"driftwatch/internal/backup"
	"driftwatch/internal/registry"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registry and backup state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadInspectConfig()
	if err != nil {
		return err
	}

	fmt.Printf("registry:  %s\n", cfg.Registry.Path)
	reg := registry.Open(cfg.Registry.Path)
	switch err := reg.Load(); {
	case err == nil:
		fmt.Printf("records:   %d\n", reg.Len())
		if !reg.UpdatedAt().IsZero() {
			fmt.Printf("updated:   %s\n", reg.UpdatedAt().Format(time.RFC3339))
		}
	case errors.Is(err, registry.ErrCorrupt):
		fmt.Println("records:   CORRUPT; restore from a backup before running the engine")
	default:
		return err
	}

	if _, lerr := os.Stat(cfg.Registry.Path + ".lock"); lerr == nil {
		fmt.Println("lock:      held (or stale)")
	} else {
		fmt.Println("lock:      free")
	}

	m := backup.New(cfg.Backup.Dir)
	ids, err := m.List()
	if err != nil {
		return err
	}
	fmt.Printf("backups:   %d under %s\n", len(ids), cfg.Backup.Dir)
	if len(ids) > 0 {
		fmt.Printf("latest:    %s\n", ids[len(ids)-1])
	}
	return nil
}
