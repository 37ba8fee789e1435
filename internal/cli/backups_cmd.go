package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"driftwatch/internal/backup"
)

var (
	restoreTo  string
	listBefore string
)

func init() {
	rootCmd.AddCommand(backupsCmd)
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsShowCmd)
	backupsCmd.AddCommand(restoreCmd)
	backupsListCmd.Flags().StringVar(&listBefore, "before", "", "Only list snapshots taken before this RFC 3339 time")
	restoreCmd.Flags().StringVar(&restoreTo, "to", "", "Restore to this path instead of the original location")
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Inspect and restore snapshots",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshot ids, oldest first",
	RunE:  runBackupsList,
}

var backupsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "List the files in one snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupsShow,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <id> <file>",
	Short: "Restore one file from a snapshot",
	Long: "Copies <file> out of snapshot <id> back over its live location.\n" +
		"The current content is snapshotted first, so a restore can always\n" +
		"be undone.",
	Args: cobra.ExactArgs(2),
	RunE: runRestore,
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadInspectConfig()
	if err != nil {
		return err
	}
	var cutoff time.Time
	if listBefore != "" {
		cutoff, err = time.Parse(time.RFC3339, listBefore)
		if err != nil {
			return fmt.Errorf("invalid --before time: %w", err)
		}
	}

	m := backup.New(cfg.Backup.Dir)
	ids, err := m.ListBefore(cutoff)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no backups")
		return nil
	}
	for _, id := range ids {
		files, ferr := m.Files(id)
		if ferr != nil {
			fmt.Printf("%s (unreadable: %v)\n", id, ferr)
			continue
		}
		fmt.Printf("%s  %d file(s)\n", id, len(files))
	}
	return nil
}

func runBackupsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadInspectConfig()
	if err != nil {
		return err
	}
	m := backup.New(cfg.Backup.Dir)
	files, err := m.Files(backup.ID(args[0]))
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Println(f)
	}
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadInspectConfig()
	if err != nil {
		return err
	}
	id, rel := backup.ID(args[0]), args[1]

	dst := restoreTo
	if dst == "" {
		// Tracked collection files restore into the first collection
		// root; the registry snapshot restores over the registry.
		if rel == "registry.json" {
			dst = cfg.Registry.Path
		} else if len(cfg.Collections.Roots) > 0 {
			dst = filepath.Join(cfg.Collections.Roots[0], filepath.FromSlash(rel))
		} else {
			return fmt.Errorf("no collection roots configured; use --to")
		}
	}

	m := backup.New(cfg.Backup.Dir)
	guard, err := m.Restore(id, rel, dst)
	if err != nil {
		return err
	}
	fmt.Printf("restored %s -> %s\n", rel, dst)
	if guard != "" {
		fmt.Printf("previous content preserved in snapshot %s\n", guard)
	}
	return nil
}
