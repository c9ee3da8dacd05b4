package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/types"
)

// resolveProject turns a project reference (id or workspace path) into a
// project id. An empty reference resolves to no project.
func resolveProject(cmd *cobra.Command, st *store.Store, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	p, err := st.GetProject(cmd.Context(), ref)
	if err == nil {
		return p.ID, nil
	}
	if !types.IsNotFound(err) {
		return "", err
	}
	p, err = st.GetProjectByPath(cmd.Context(), ref)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var (
	projectPath string
	projectName string
	projectDesc string
)

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		p := &types.Project{
			Name:        args[0],
			Path:        projectPath,
			Description: projectDesc,
		}
		if err := st.CreateProject(cmd.Context(), p); err != nil {
			return err
		}
		fmt.Printf("Created project %s (prefix %s)\n", p.ID, p.Prefix)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		projects, err := st.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		for _, p := range projects {
			fmt.Printf("%-38s %-6s %s\n", p.ID, p.Prefix, p.Name)
		}
		return nil
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a project in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := resolveProject(cmd, st, args[0])
		if err != nil {
			return err
		}
		p, err := st.GetProject(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("ID:          %s\n", p.ID)
		fmt.Printf("Name:        %s\n", p.Name)
		fmt.Printf("Prefix:      %s\n", p.Prefix)
		if p.Path != "" {
			fmt.Printf("Path:        %s\n", p.Path)
		}
		if p.Description != "" {
			fmt.Printf("Description: %s\n", p.Description)
		}
		fmt.Printf("Created:     %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var projectUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a project's name or description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := resolveProject(cmd, st, args[0])
		if err != nil {
			return err
		}
		var name, desc *string
		if cmd.Flags().Changed("name") {
			name = &projectName
		}
		if cmd.Flags().Changed("description") {
			desc = &projectDesc
		}
		if name == nil && desc == nil {
			return fmt.Errorf("nothing to update; pass --name or --description")
		}
		p, err := st.UpdateProject(cmd.Context(), id, name, desc)
		if err != nil {
			return err
		}
		fmt.Printf("Updated project %s\n", p.ID)
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a project, keeping its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := resolveProject(cmd, st, args[0])
		if err != nil {
			return err
		}
		if err := st.DeleteProject(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted project %s\n", id)
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectPath, "path", "", "workspace path for the project")
	projectCreateCmd.Flags().StringVar(&projectDesc, "description", "", "project description")

	projectUpdateCmd.Flags().StringVar(&projectName, "name", "", "new project name")
	projectUpdateCmd.Flags().StringVar(&projectDesc, "description", "", "new project description")

	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectShowCmd,
		projectUpdateCmd, projectDeleteCmd)
	rootCmd.AddCommand(projectCmd)
}
