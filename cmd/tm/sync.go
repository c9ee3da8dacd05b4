package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/mirror"
	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/sync"
)

var syncFlags struct {
	mirror    string
	direction string
	prefer    string
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile local tasks with external mirrors",
	Long: `Reconcile local tasks with the configured external mirrors.

A full sync pulls remote changes first, then pushes local ones. Records
changed on both sides since the last sync are conflicts: the preferred
side wins and the losing side's timestamps are noted on the task.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		dir := sync.Direction(syncFlags.direction)
		switch dir {
		case sync.DirectionPush, sync.DirectionPull, sync.DirectionBoth:
		default:
			return fmt.Errorf("invalid direction %q (push|pull|both)", syncFlags.direction)
		}
		pref := sync.Preference(syncFlags.prefer)
		switch pref {
		case sync.PreferLocal, sync.PreferRemote, "":
		default:
			return fmt.Errorf("invalid preference %q (local|remote)", syncFlags.prefer)
		}

		mirrors := cfg.Mirrors
		if syncFlags.mirror != "" {
			m, err := cfg.MirrorByName(syncFlags.mirror)
			if err != nil {
				return err
			}
			mirrors = []config.Mirror{*m}
		}
		if len(mirrors) == 0 {
			return fmt.Errorf("no mirrors configured; add one to the config file")
		}

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		failed := 0
		for _, m := range mirrors {
			engine := engineFor(st, m, logger)
			res, err := engine.Sync(cmd.Context(), dir, pref)
			if err != nil {
				fmt.Fprintf(os.Stderr, "sync %s: %v\n", m.Name, err)
				failed++
				continue
			}
			fmt.Printf("%s: pushed %d, pulled %d\n", m.Name, res.Pushed, res.Pulled)
			for _, e := range res.Errors {
				fmt.Fprintf(os.Stderr, "  %s\n", e)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d sync failure(s)", failed)
		}
		return nil
	},
}

// engineFor builds a sync engine for one configured mirror. The push
// scope is limited to tasks assigned to the mirror's agent so each
// agent's mirror only carries its own work.
func engineFor(st *store.Store, m config.Mirror, logger *log.Logger) *sync.Engine {
	adapter := mirror.NewAdapter(m.Dir, mirror.Schema{
		Name:             m.Name,
		MetadataKey:      m.MetadataKey,
		ExternalIDPrefix: m.IDPrefix,
	})
	scope := store.TaskFilter{AssignedTo: m.Name}
	return sync.New(st, adapter, scope, logger)
}

func init() {
	syncCmd.Flags().StringVar(&syncFlags.mirror, "mirror", "", "sync only this mirror")
	syncCmd.Flags().StringVar(&syncFlags.direction, "direction", "both", "sync direction (push|pull|both)")
	syncCmd.Flags().StringVar(&syncFlags.prefer, "prefer", "remote", "conflict winner (local|remote)")
	rootCmd.AddCommand(syncCmd)
}
