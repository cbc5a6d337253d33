package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/backchain/internal/lifecycle"
)

var historyLimit int

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the backup catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list <database>",
	Short: "List backup chains for a database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := lifecycle.NewService(cmd.Context(), ConfigFile)
		if err != nil {
			return err
		}
		query, _ := svc.Query()
		chains := query.ListChains(args[0])
		if len(chains) == 0 {
			fmt.Printf("no chains for database %q\n", args[0])
			return nil
		}
		for _, chain := range chains {
			marker := " "
			if chain.Open {
				marker = "*"
			}
			fmt.Printf("%s %s  policy=%s  members=%d  completed=%d\n",
				marker, chain.RootID, chain.Policy, chain.Members, chain.Completed)
		}
		return nil
	},
}

var catalogDescribeCmd = &cobra.Command{
	Use:   "describe <root-id>",
	Short: "Show a chain's ordered members with resolved basis links",
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
		fmt.Printf("chain %s  database=%s  policy=%s\n", desc.RootID, desc.Database, desc.Policy)
		for i, member := range desc.Members {
			basis := "-"
			if member.Basis != nil {
				basis = member.Basis.ID
			}
			fmt.Printf("%3d. %s  type=%s  status=%s  basis=%s\n",
				i+1, member.Record.ID, member.Record.Type, member.Status, basis)
		}
		return nil
	},
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate <root-id>",
	Short: "Re-run cycle, orphan, and policy checks on a chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := lifecycle.NewService(cmd.Context(), ConfigFile)
		if err != nil {
			return err
		}
		query, _ := svc.Query()
		report, err := query.ValidateChain(args[0])
		if err != nil {
			return err
		}
		if report.OK() {
			fmt.Printf("chain %s is consistent\n", report.RootID)
			return nil
		}
		fmt.Printf("chain %s has issues:\n", report.RootID)
		for _, issue := range report.Issues.Errors {
			fmt.Printf("  - %v\n", issue)
		}
		return nil
	},
}

var catalogHistoryCmd = &cobra.Command{
	Use:   "history <database>",
	Short: "Show recent backups, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := lifecycle.NewService(cmd.Context(), ConfigFile)
		if err != nil {
			return err
		}
		query, _ := svc.Query()
		records := query.History(args[0], historyLimit)
		if len(records) == 0 {
			fmt.Printf("no backups for database %q\n", args[0])
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%s  type=%s  status=%s  started=%s\n",
				rec.ID, rec.Type, rec.Status, rec.StartedAt.Format("2006-01-02 15:04:05 MST"))
			if rec.Statistics != nil {
				fmt.Printf("      tables=%d rows=%d size=%.2f MB\n",
					rec.Statistics.TotalTables,
					rec.Statistics.TotalRowsProcessed,
					float64(rec.Statistics.TotalSizeBytes)/1024/1024)
			}
			if rec.ErrorDetail != "" {
				fmt.Printf("      error: %s\n", rec.ErrorDetail)
			}
		}
		return nil
	},
}

func init() {
	catalogHistoryCmd.Flags().
		IntVarP(&historyLimit, "limit", "n", 10, "maximum number of backups to show")

	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogDescribeCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogHistoryCmd)
}
