// Command tm is the taskmesh CLI: a thin consumer of the task store,
// dependency guard, lease operations, and sync engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/store"
)

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Shared task tracking for autonomous agents",
	Long: `taskmesh tracks work items shared by multiple autonomous agents:
optimistic versioning for safe concurrent edits, lease locks for
exclusive claims, dependency graphs with cycle prevention, and
bidirectional sync against per-agent external mirrors.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		return err
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			path = config.DefaultDir() + "/config.yaml"
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

// openStore opens the configured database and initializes the schema.
// Callers must Close() the returned store.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// resolveTask expands a partial or short id to the full task id.
func resolveTask(cmd *cobra.Command, st *store.Store, partial string) (string, error) {
	return st.ResolveID(cmd.Context(), partial)
}
