package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage task dependencies",
}

var depAddCmd = &cobra.Command{
	Use:   "add <id> <depends-on>",
	Short: "Record that a task depends on another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := resolveTask(cmd, st, args[0])
		if err != nil {
			return err
		}
		dep, err := resolveTask(cmd, st, args[1])
		if err != nil {
			return err
		}
		if err := st.AddDependency(cmd.Context(), id, dep); err != nil {
			return err
		}
		fmt.Printf("%s now depends on %s\n", id, dep)
		return nil
	},
}

var depRemoveCmd = &cobra.Command{
	Use:   "remove <id> <depends-on>",
	Short: "Remove a dependency edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := resolveTask(cmd, st, args[0])
		if err != nil {
			return err
		}
		dep, err := resolveTask(cmd, st, args[1])
		if err != nil {
			return err
		}
		removed, err := st.RemoveDependency(cmd.Context(), id, dep)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Printf("No dependency from %s to %s\n", id, dep)
			return nil
		}
		fmt.Printf("%s no longer depends on %s\n", id, dep)
		return nil
	},
}

var depShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show what a task depends on and what it blocks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := resolveTask(cmd, st, args[0])
		if err != nil {
			return err
		}
		deps, err := st.DependenciesOf(cmd.Context(), id)
		if err != nil {
			return err
		}
		dependents, err := st.DependentsOf(cmd.Context(), id)
		if err != nil {
			return err
		}

		if len(deps) == 0 && len(dependents) == 0 {
			fmt.Printf("%s has no dependencies\n", id)
			return nil
		}
		for _, d := range deps {
			fmt.Printf("depends on  %s\n", d)
		}
		for _, d := range dependents {
			fmt.Printf("blocks      %s\n", d)
		}
		return nil
	},
}

func init() {
	depCmd.AddCommand(depAddCmd, depRemoveCmd, depShowCmd)
	rootCmd.AddCommand(depCmd)
}
