package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/types"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, inspect, and mutate tasks",
}

var (
	createDesc     string
	createPriority string
	createProject  string
	createParent   string
	createAgent    string
	createTags     []string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		projectID, err := resolveProject(cmd, st, createProject)
		if err != nil {
			return err
		}

		task := &types.Task{
			Title:       args[0],
			Description: createDesc,
			Priority:    types.Priority(createPriority),
			ProjectID:   projectID,
			ParentID:    createParent,
			AgentID:     createAgent,
			Tags:        createTags,
		}
		task.SetDefaults()
		if err := st.CreateTask(cmd.Context(), task); err != nil {
			return err
		}
		if task.ShortID != "" {
			fmt.Printf("Created %s (%s)\n", task.ShortID, task.ID)
		} else {
			fmt.Printf("Created %s\n", task.ID)
		}
		return nil
	},
}

var listFilter struct {
	status   string
	project  string
	assignee string
	tag      string
	limit    int
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		projectID, err := resolveProject(cmd, st, listFilter.project)
		if err != nil {
			return err
		}

		tasks, err := st.ListTasks(cmd.Context(), store.TaskFilter{
			Status:     types.Status(listFilter.status),
			ProjectID:  projectID,
			AssignedTo: listFilter.assignee,
			Tag:        listFilter.tag,
			Limit:      listFilter.limit,
		})
		if err != nil {
			return err
		}
		for _, t := range tasks {
			id := t.ShortID
			if id == "" {
				id = t.ID[:8]
			}
			line := fmt.Sprintf("%-12s %-12s %-8s %s", id, t.Status, t.Priority, t.Title)
			if t.LockedBy != "" {
				line += fmt.Sprintf(" [locked by %s]", t.LockedBy)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task in full",
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
		task, err := st.GetTask(cmd.Context(), id)
		if err != nil {
			return err
		}

		fmt.Printf("ID:          %s\n", task.ID)
		if task.ShortID != "" {
			fmt.Printf("Short ID:    %s\n", task.ShortID)
		}
		fmt.Printf("Title:       %s\n", task.Title)
		if task.Description != "" {
			fmt.Printf("Description: %s\n", task.Description)
		}
		fmt.Printf("Status:      %s\n", task.Status)
		fmt.Printf("Priority:    %s\n", task.Priority)
		fmt.Printf("Version:     %d\n", task.Version)
		if task.AssignedTo != "" {
			fmt.Printf("Assigned to: %s\n", task.AssignedTo)
		}
		if task.LockedBy != "" {
			fmt.Printf("Locked by:   %s (since %s)\n", task.LockedBy, task.LockedAt)
		}
		if len(task.Tags) > 0 {
			fmt.Printf("Tags:        %s\n", strings.Join(task.Tags, ", "))
		}

		deps, err := st.DependenciesOf(cmd.Context(), task.ID)
		if err != nil {
			return err
		}
		if len(deps) > 0 {
			fmt.Printf("Depends on:  %s\n", strings.Join(deps, ", "))
		}
		dependents, err := st.DependentsOf(cmd.Context(), task.ID)
		if err != nil {
			return err
		}
		if len(dependents) > 0 {
			fmt.Printf("Blocks:      %s\n", strings.Join(dependents, ", "))
		}
		return nil
	},
}

var updateFlags struct {
	title       string
	description string
	status      string
	priority    string
	assign      string
	clearAssign bool
	version     int
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a task at an expected version",
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

		version := updateFlags.version
		if version == 0 {
			// Convenience: no --version means "current version".
			task, err := st.GetTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			version = task.Version
		}

		var patch store.TaskPatch
		if cmd.Flags().Changed("title") {
			patch.Title = &updateFlags.title
		}
		if cmd.Flags().Changed("description") {
			patch.Description = &updateFlags.description
		}
		if cmd.Flags().Changed("status") {
			s := types.Status(updateFlags.status)
			patch.Status = &s
		}
		if cmd.Flags().Changed("priority") {
			p := types.Priority(updateFlags.priority)
			patch.Priority = &p
		}
		if updateFlags.clearAssign {
			empty := ""
			patch.AssignedTo = &empty
		} else if cmd.Flags().Changed("assign") {
			patch.AssignedTo = &updateFlags.assign
		}

		task, err := st.UpdateTask(cmd.Context(), id, patch, version)
		if err != nil {
			return err
		}
		fmt.Printf("Updated %s to version %d\n", task.ID, task.Version)
		return nil
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task and its subtasks",
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
		if err := st.DeleteTask(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", id)
		return nil
	},
}

func init() {
	taskCreateCmd.Flags().StringVarP(&createDesc, "description", "d", "", "task description")
	taskCreateCmd.Flags().StringVarP(&createPriority, "priority", "p", "medium", "priority (low|medium|high|critical)")
	taskCreateCmd.Flags().StringVar(&createProject, "project", "", "project id or path")
	taskCreateCmd.Flags().StringVar(&createParent, "parent", "", "parent task id")
	taskCreateCmd.Flags().StringVar(&createAgent, "agent", "", "creating agent id")
	taskCreateCmd.Flags().StringSliceVarP(&createTags, "tag", "t", nil, "tags (repeatable)")

	taskListCmd.Flags().StringVar(&listFilter.status, "status", "", "filter by status")
	taskListCmd.Flags().StringVar(&listFilter.project, "project", "", "filter by project id or path")
	taskListCmd.Flags().StringVar(&listFilter.assignee, "assignee", "", "filter by assignee")
	taskListCmd.Flags().StringVar(&listFilter.tag, "tag", "", "filter by tag")
	taskListCmd.Flags().IntVar(&listFilter.limit, "limit", 0, "limit results")

	taskUpdateCmd.Flags().StringVar(&updateFlags.title, "title", "", "new title")
	taskUpdateCmd.Flags().StringVar(&updateFlags.description, "description", "", "new description")
	taskUpdateCmd.Flags().StringVar(&updateFlags.status, "status", "", "new status")
	taskUpdateCmd.Flags().StringVar(&updateFlags.priority, "priority", "", "new priority")
	taskUpdateCmd.Flags().StringVar(&updateFlags.assign, "assign", "", "assign to agent")
	taskUpdateCmd.Flags().BoolVar(&updateFlags.clearAssign, "clear-assign", false, "clear the assignment")
	taskUpdateCmd.Flags().IntVar(&updateFlags.version, "version", 0, "expected task version")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd, taskUpdateCmd, taskDeleteCmd)
	rootCmd.AddCommand(taskCmd)
}
