package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"driftwatch/internal/baseline"
	"driftwatch/internal/pathfilter"
	"driftwatch/internal/reconcile"
	"driftwatch/internal/registry"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify tracked files against the registry without changing anything",
	Long: "Hashes every tracked file and compares it to the persisted registry.\n" +
		"Exits non-zero if any file drifted or went missing. Nothing is\n" +
		"written; run \"driftwatch reconcile\" to accept local changes.",
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := registry.Open(cfg.Registry.Path)
	if err := reg.Load(); err != nil {
		return err
	}

	filter := pathfilter.New(cfg.Watch.IgnoredPatterns, cfg.Collections.Enabled, cfg.StateDirs())
	tracked, err := reconcile.DiscoverKeys(cfg.Collections.Roots, cfg.Collections.TrackedFiles, filter.ShouldProcess)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var drifted, missing, untracked int

	for _, key := range reg.Keys() {
		rec, _ := reg.Get(key)
		path, onDisk := tracked[key]
		if !onDisk {
			fmt.Printf("missing   %s\n", key)
			missing++
			continue
		}
		hashCtx, cancel := context.WithTimeout(ctx, cfg.HashTimeout())
		hash, _, herr := baseline.HashFile(hashCtx, path)
		cancel()
		if herr != nil {
			fmt.Printf("unreadable %s: %v\n", key, herr)
			drifted++
			continue
		}
		if hash != rec.ContentHash {
			fmt.Printf("drift     %s\n", key)
			drifted++
		}
	}

	for key := range tracked {
		if _, known := reg.Get(key); !known {
			fmt.Printf("untracked %s\n", key)
			untracked++
		}
	}

	total := reg.Len()
	fmt.Printf("\n%d tracked, %d drifted, %d missing, %d untracked\n", total, drifted, missing, untracked)
	if drifted > 0 || missing > 0 {
		os.Exit(1)
	}
	return nil
}
