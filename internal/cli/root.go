package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hlmigrate",
	Short: "Migrate a HigherLogic community database into a discussion platform",
	Long: `hlmigrate reads a legacy HigherLogic community database and imports its
users, groups, categories, posts and attachments into the target platform.
Every imported record is mapped by its legacy key, so runs can be repeated
and resumed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to target database file (overrides HL_TARGET_DB)")
	rootCmd.PersistentFlags().String("config", "", "YAML config file merged over ~/.config/hlmigrate/config.yaml")
}
