package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <id> <agent>",
	Short: "Claim a task and begin work on it",
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
		task, err := st.Start(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Started %s as %s (version %d)\n", task.ID, args[1], task.Version)
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <id> [agent]",
	Short: "Mark a task completed",
	Long: `Mark a task completed and release its lock.

With an agent argument, completion is refused while another agent holds a
live lock on the task. Without one the lock check is skipped, which lets an
operator finish a task on behalf of a crashed agent.`,
	Args: cobra.RangeArgs(1, 2),
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
		agent := ""
		if len(args) == 2 {
			agent = args[1]
		}
		task, err := st.Complete(cmd.Context(), id, agent)
		if err != nil {
			return err
		}
		fmt.Printf("Completed %s (version %d)\n", task.ID, task.Version)
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock <id> <agent>",
	Short: "Acquire a lease on a task without changing its status",
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
		res, err := st.Lock(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}
		if !res.Acquired {
			return fmt.Errorf("task %s is locked by %s", id, res.LockedBy)
		}
		fmt.Printf("Locked %s for %s\n", id, args[1])
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <id> [agent]",
	Short: "Release a lease on a task",
	Long: `Release a lease on a task.

With an agent argument only that agent's lock is released. Without one the
lock is cleared regardless of who holds it.`,
	Args: cobra.RangeArgs(1, 2),
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
		agent := ""
		if len(args) == 2 {
			agent = args[1]
		}
		if _, err := st.Unlock(cmd.Context(), id, agent); err != nil {
			return err
		}
		fmt.Printf("Unlocked %s\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd, completeCmd, lockCmd, unlockCmd)
}
