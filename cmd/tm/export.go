package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/export"
	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/types"
)

var exportFlags struct {
	status  string
	project string
}

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export tasks to a JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := export.ToJSONL(cmd.Context(), st, store.TaskFilter{
			Status:    types.Status(exportFlags.status),
			ProjectID: exportFlags.project,
		}, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d task(s) to %s\n", res.Tasks, args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import tasks from a JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := export.FromJSONL(cmd.Context(), st, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d task(s) from %s\n", res.Tasks, args[0])
		for _, e := range res.Errors {
			fmt.Fprintf(os.Stderr, "  %s\n", e)
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d record(s) failed to import", len(res.Errors))
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFlags.status, "status", "", "filter by status")
	exportCmd.Flags().StringVar(&exportFlags.project, "project", "", "filter by project id")
	rootCmd.AddCommand(exportCmd, importCmd)
}
