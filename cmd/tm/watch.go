package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/taskmesh/taskmesh/internal/daemon"
	"github.com/taskmesh/taskmesh/internal/dashboard"
	"github.com/taskmesh/taskmesh/internal/sync"
)

var watchFlags struct {
	prefer    string
	dashboard bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch mirror directories and sync on change",
	Long: `Run the sync daemon: watch every configured mirror directory and
trigger a debounced full sync whenever mirror files change. With
--dashboard, also serve a websocket feed of sync activity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Mirrors) == 0 {
			return fmt.Errorf("no mirrors configured; add one to the config file")
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		logger := daemonLogger()

		var srv *dashboard.Server
		if watchFlags.dashboard {
			srv = dashboard.NewServer(cfg.DashboardAddr, logger)
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Stop()
			logger.Printf("dashboard listening on %s", srv.Addr())
		}

		var mirrors []daemon.Mirror
		for _, m := range cfg.Mirrors {
			mirrors = append(mirrors, daemon.Mirror{
				Name:   m.Name,
				Dir:    m.Dir,
				Engine: engineFor(st, m, logger),
			})
		}

		dcfg := daemon.DefaultConfig()
		dcfg.Logger = logger
		if watchFlags.prefer != "" {
			dcfg.Preference = sync.Preference(watchFlags.prefer)
		}

		notify := func(name string, res *sync.Result) {
			if srv == nil {
				return
			}
			srv.BroadcastSyncComplete(dashboard.SyncCompleteData{
				Mirror: name,
				Pushed: res.Pushed,
				Pulled: res.Pulled,
				Errors: res.Errors,
			})
		}

		d, err := daemon.New(mirrors, dcfg, notify)
		if err != nil {
			return err
		}

		// Start blocks until the context is cancelled.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return d.Start(ctx)
	},
}

// daemonLogger logs to stderr and, when configured, to a rotating file.
func daemonLogger() *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		})
	}
	return log.New(w, "[daemon] ", log.LstdFlags)
}

func init() {
	watchCmd.Flags().StringVar(&watchFlags.prefer, "prefer", "", "conflict winner for triggered syncs (local|remote)")
	watchCmd.Flags().BoolVar(&watchFlags.dashboard, "dashboard", false, "serve the websocket dashboard")
	rootCmd.AddCommand(watchCmd)
}
