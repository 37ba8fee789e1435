package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"driftwatch/internal/config"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: "Writes a commented default configuration in TOML. Refuses to\n" +
		"overwrite an existing file. Edit watch.paths and collections.roots\n" +
		"before running the engine.",
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
