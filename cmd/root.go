package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kebairia/backchain/internal/logger"
)

// ConfigFile is the path to the YAML configuration.
var (
	ConfigFile string
	// rootCmd is the base command for backchain.
	rootCmd = &cobra.Command{
		Use:   "backchain",
		Short: "Backup catalog and chain manager",
		Long: `backchain coordinates full, partial, differential, and WAL-archive
backups produced by native database tools, and keeps their lineage
consistent in an on-disk catalog.`,
	}
)

// Execute runs the root command.
func Execute() {
	log, err := logger.Init()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", "error", err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "./configs/config.yaml", "path to YAML config file")
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(restoreCmd)
}
