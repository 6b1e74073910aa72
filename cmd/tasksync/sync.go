package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vifly/tasksApp/internal/blob"
	"github.com/vifly/tasksApp/internal/daemon"
	"github.com/vifly/tasksApp/internal/dashboard"
	"github.com/vifly/tasksApp/internal/remote"
	"github.com/vifly/tasksApp/internal/sync"
	"github.com/vifly/tasksApp/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push local changes and merge changes from other devices",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// withApp already holds the sync lock.
		return withApp(cmd.Context(), func(a *app) error {
			res, err := a.syncer().Sync(cmd.Context(), "manual")
			if res != nil {
				printResult(res)
			}
			return err
		})
	},
}

func printResult(res *sync.Result) {
	switch res.Status {
	case sync.StatusNotConfigured:
		fmt.Printf("%s Sync is not configured. Run 'tasksync setup' or 'tasksync config set server_url <url>'.\n",
			ui.RenderWarn("!"))
	case sync.StatusFailed:
		fmt.Printf("%s Sync failed: %s\n", ui.RenderFail("✗"), res.Message)
	default:
		fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), res.Message,
			ui.RenderMuted(fmt.Sprintf("(%s)", res.Duration.Round(time.Millisecond))))
		if res.PullFailed > 0 {
			fmt.Printf("%s %d remote file(s) could not be merged and will be retried\n",
				ui.RenderWarn("!"), res.PullFailed)
		}
	}
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync configuration and state",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}

		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			last, err := a.meta.LastSyncTime(ctx)
			if err != nil {
				return err
			}
			list, err := a.engine.GetAll(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("%s\n", ui.RenderAccent("Sync status"))
			fmt.Printf("  Device:     %s\n", a.deviceID)
			fmt.Printf("  Tasks:      %d\n", len(list))

			target, err := remote.Parse(settings.ServerURL)
			switch {
			case errors.Is(err, remote.ErrNotConfigured):
				fmt.Printf("  Remote:     %s\n", ui.RenderWarn("not configured"))
			case err != nil:
				fmt.Printf("  Remote:     %s\n", ui.RenderFail(err.Error()))
			case target.Kind == remote.KindWebDAV:
				fmt.Printf("  Remote:     %s (webdav)\n", target.URL)
			default:
				fmt.Printf("  Remote:     %s (directory)\n", target.Dir)
			}

			if last.IsZero() {
				fmt.Printf("  Last sync:  %s\n", ui.RenderMuted("never"))
			} else {
				fmt.Printf("  Last sync:  %s\n", last.Format(time.DateTime))
			}
			if settings.AutoSync {
				fmt.Printf("  Auto sync:  every %s (when the daemon runs)\n", settings.SyncInterval())
			} else {
				fmt.Printf("  Auto sync:  off\n")
			}
			fmt.Printf("  Log:        %s\n", a.sink.Path())
			return nil
		})
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run periodic sync in the foreground",
	Long: `Run the sync scheduler in the foreground until interrupted.

With auto_sync enabled a pass runs immediately and then every
sync_interval_minutes. For directory remotes new delta files from other
devices also trigger a pass. With dashboard_port set, a WebSocket endpoint
at /ws announces data changes and finished passes, and /metrics serves
Prometheus metrics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}

		return withApp(cmd.Context(), func(a *app) error {
			a.unlock()
			cfg := daemon.Config{
				Syncer:   a.syncer(),
				LockPath: a.lockPath(),
				AutoSync: settings.AutoSync,
				Interval: settings.SyncInterval(),
				Notifier: a.engine,
				Logger:   a.sink.Logger("[daemon] "),
			}
			if target, err := remote.Parse(settings.ServerURL); err == nil && target.Kind == remote.KindDirectory {
				cfg.WatchDir = filepath.Join(target.Dir, blob.UpdatesDir)
			}

			if settings.DashboardPort > 0 {
				server := dashboard.NewServer(dashboard.Config{
					Port:     settings.DashboardPort,
					Gatherer: a.registry,
					Metrics:  a.metrics,
					Logger:   a.sink.Logger("[dashboard] "),
				})
				if err := server.Start(); err != nil {
					return err
				}
				defer func() { _ = server.Stop() }()
				cfg.Handler = dashboard.NewHandler(server, a.sink.Logger("[dashboard] "))
				fmt.Printf("Dashboard on http://%s\n", server.Addr())
			}

			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}
			if settings.AutoSync {
				fmt.Printf("Syncing every %s. Press Ctrl+C to stop.\n", cfg.Interval)
			} else {
				fmt.Println("Auto sync is off; only forwarding change notifications. Press Ctrl+C to stop.")
			}
			return d.Start(cmd.Context())
		})
	},
}

var resetSyncCmd = &cobra.Command{
	Use:     "reset-sync",
	GroupID: "advanced",
	Short:   "Forget which remote files were merged",
	Long: `Forget which remote delta files were merged and when the last sync ran.

The next sync downloads and merges every remote file again. Merging is
idempotent, so this is safe; it only costs bandwidth. The device id is kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.meta.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("%s Sync state reset; the next sync re-reads every remote file\n", ui.RenderPass("✓"))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, statusCmd, daemonCmd, resetSyncCmd)
}
