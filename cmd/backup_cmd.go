package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kebairia/backchain/internal/lifecycle"
	"github.com/kebairia/backchain/internal/tool"
)

var (
	fullPhysical  bool
	partialTables []string
	walBaseBackup string

	walCheckArchiveDir string
	walCheckBaseWAL    string
	walCheckCurrentWAL string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create backups and record them in the catalog",
}

var backupFullCmd = &cobra.Command{
	Use:   "full <database>",
	Short: "Take a full backup, opening a new chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := lifecycle.NewService(cmd.Context(), ConfigFile)
		if err != nil {
			return err
		}
		backup := svc.BackupFull
		if fullPhysical {
			backup = svc.BackupFullPhysical
		}
		rec, err := backup(cmd.Context(), args[0])
		if rec != nil {
			fmt.Printf("backup %s -> %s (%s)\n", rec.ID, rec.Location, rec.Status)
		}
		return err
	},
}

var backupPartialCmd = &cobra.Command{
	Use:   "partial <database>",
	Short: "Back up selected tables only",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := lifecycle.NewService(cmd.Context(), ConfigFile)
		if err != nil {
			return err
		}
		rec, err := svc.BackupPartial(cmd.Context(), args[0], partialTables)
		if rec != nil {
			fmt.Printf("backup %s -> %s (%s)\n", rec.ID, rec.Location, rec.Status)
		}
		return err
	},
}

var backupDiffCmd = &cobra.Command{
	Use:   "diff <database>",
	Short: "Take a differential backup against the selected basis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := lifecycle.NewService(cmd.Context(), ConfigFile)
		if err != nil {
			return err
		}
		rec, err := svc.BackupDifferential(cmd.Context(), args[0])
		if rec != nil {
			fmt.Printf("backup %s (basis %s) -> %s (%s)\n", rec.ID, rec.BasisID, rec.Location, rec.Status)
		}
		return err
	},
}

var backupWalCmd = &cobra.Command{
	Use:   "wal <database>",
	Short: "Archive WAL segments under a completed full backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if walBaseBackup == "" {
			return fmt.Errorf("--base is required")
		}
		svc, err := lifecycle.NewService(cmd.Context(), ConfigFile)
		if err != nil {
			return err
		}
		rec, err := svc.BackupWalArchive(cmd.Context(), args[0], walBaseBackup)
		if rec != nil {
			fmt.Printf("backup %s (base %s) -> %s (%s)\n", rec.ID, rec.BasisID, rec.Location, rec.Status)
		}
		return err
	},
}

var backupWalVerifyCmd = &cobra.Command{
	Use:   "wal-verify",
	Short: "Check a WAL archive for sequence gaps and timeline conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := os.ReadDir(walCheckArchiveDir)
		if err != nil {
			return fmt.Errorf("read archive directory: %w", err)
		}
		var archived []string
		for _, entry := range entries {
			if !entry.IsDir() {
				archived = append(archived, entry.Name())
			}
		}
		check := &tool.WALArchiveCheck{
			Archived:      archived,
			BaseBackupWAL: walCheckBaseWAL,
			CurrentWAL:    walCheckCurrentWAL,
			Dir:           walCheckArchiveDir,
		}
		if err := check.ValidateTimeline(); err != nil {
			return err
		}
		if err := check.ValidateSequence(); err != nil {
			return err
		}
		fmt.Println("WAL archive is complete and on a single timeline")
		return nil
	},
}

func init() {
	backupFullCmd.Flags().
		BoolVar(&fullPhysical, "physical", false, "use the engine's physical backup tool (pg_basebackup / xtrabackup)")
	backupPartialCmd.Flags().
		StringSliceVarP(&partialTables, "table", "t", nil, "table to include (repeatable)")
	backupWalCmd.Flags().
		StringVar(&walBaseBackup, "base", "", "id of the completed full backup to chain under")
	backupWalVerifyCmd.Flags().
		StringVar(&walCheckArchiveDir, "archive-dir", "", "WAL archive directory")
	backupWalVerifyCmd.Flags().
		StringVar(&walCheckBaseWAL, "base-wal", "", "last WAL segment covered by the base backup")
	backupWalVerifyCmd.Flags().
		StringVar(&walCheckCurrentWAL, "current-wal", "", "newest WAL segment reported by the server")
	for _, flag := range []string{"archive-dir", "base-wal", "current-wal"} {
		_ = backupWalVerifyCmd.MarkFlagRequired(flag)
	}

	backupCmd.AddCommand(backupFullCmd)
	backupCmd.AddCommand(backupPartialCmd)
	backupCmd.AddCommand(backupDiffCmd)
	backupCmd.AddCommand(backupWalCmd)
	backupCmd.AddCommand(backupWalVerifyCmd)
}
