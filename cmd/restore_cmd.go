package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/backchain/internal/catalog"
	"github.com/kebairia/backchain/internal/lifecycle"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restoration planning from the catalog",
}

// restorePlanCmd prints the order restoration must follow for a chain. The
// actual data restoration is left to the native tools; this only derives the
// plan from recorded lineage.
var restorePlanCmd = &cobra.Command{
	Use:   "plan <root-id>",
	Short: "Print the restoration order for a chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := lifecycle.NewService(cmd.Context(), ConfigFile)
		if err != nil {
			return err
		}
		query, _ := svc.Query()
		desc, err := query.DescribeChain(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("restore plan for chain %s (database %s):\n", desc.RootID, desc.Database)
		step := 0
		for _, member := range desc.Members {
			if member.Record.Status != catalog.StatusCompleted {
				fmt.Printf("  skip %s (status %s)\n", member.Record.ID, member.Status)
				continue
			}
			step++
			fmt.Printf("  %d. %s  type=%s  artifact=%s\n",
				step, member.Record.ID, member.Record.Type, member.Record.Location)
		}
		return nil
	},
}

func init() {
	restoreCmd.AddCommand(restorePlanCmd)
}
