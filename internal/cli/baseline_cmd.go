package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"driftwatch/internal/baseline"
	"driftwatch/internal/pathfilter"
	"driftwatch/internal/reconcile"
)

func init() {
	rootCmd.AddCommand(baselineCmd)
}

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Hash tracked files and print the current local baseline",
	Long: "Discovers tracked collection files and prints their content hashes\n" +
		"and sizes as they exist on disk right now. Reads only; the registry\n" +
		"is not consulted or changed.",
	RunE: runBaseline,
}

func runBaseline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	filter := pathfilter.New(cfg.Watch.IgnoredPatterns, cfg.Collections.Enabled, cfg.StateDirs())
	tracked, err := reconcile.DiscoverKeys(cfg.Collections.Roots, cfg.Collections.TrackedFiles, filter.ShouldProcess)
	if err != nil {
		return err
	}
	if len(tracked) == 0 {
		fmt.Println("no tracked files found")
		return nil
	}

	keys := make([]string, 0, len(tracked))
	for k := range tracked {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx := context.Background()
	for _, key := range keys {
		hashCtx, cancel := context.WithTimeout(ctx, cfg.HashTimeout())
		hash, size, herr := baseline.HashFile(hashCtx, tracked[key])
		cancel()
		if herr != nil {
			fmt.Printf("%-40s unreadable: %v\n", key, herr)
			continue
		}
		fmt.Printf("%-40s %s  %d bytes\n", key, hash, size)
	}
	return nil
}
