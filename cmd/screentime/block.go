package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/plugin"
	"github.com/eliteGoblin/focusd/screentime/internal/usecase"
)

var blockCmd = &cobra.Command{
	Use:   "block <package>...",
	Short: "Block apps for a duration",
	Long: `Blocks the given apps (bundle identifiers) for --duration.
A background daemon covers a blocked app whenever it comes to the foreground.
Blocking again replaces the current block, including a pending pause.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBlock,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock [package]...",
	Short: "End the block, or remove some apps from it",
	RunE:  runUnblock,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the active block",
	Long: `Suspends the active block for --duration. The remaining block time is kept
and blocking resumes automatically when the pause ends.`,
	RunE: runPause,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show block, pause and daemon status",
	RunE:  runStatus,
}

var (
	blockDuration     time.Duration
	blockLayout       string
	notificationTitle string
	notificationText  string
	pauseDuration     time.Duration
	pauseQuiet        bool
	statusMetrics     bool
)

func init() {
	blockCmd.Flags().DurationVarP(&blockDuration, "duration", "d", 0, "How long to block (e.g. 45m)")
	blockCmd.Flags().StringVar(&blockLayout, "layout", "", "Overlay layout name")
	blockCmd.Flags().StringVar(&notificationTitle, "title", "", "Overlay title")
	blockCmd.Flags().StringVar(&notificationText, "text", "", "Overlay text")
	_ = blockCmd.MarkFlagRequired("duration")

	pauseCmd.Flags().DurationVarP(&pauseDuration, "duration", "d", 0, "How long to pause (e.g. 10m)")
	pauseCmd.Flags().StringVar(&notificationTitle, "title", "", "Pause notification title")
	pauseCmd.Flags().StringVar(&notificationText, "text", "", "Pause notification text")
	pauseCmd.Flags().BoolVar(&pauseQuiet, "no-notification", false, "Do not show the pause notification")
	_ = pauseCmd.MarkFlagRequired("duration")

	statusCmd.Flags().BoolVar(&statusMetrics, "metrics", false, "Also print daemon counters")

	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(statusCmd)
}

func runBlock(cmd *cobra.Command, args []string) error {
	return withPlugin(func(ctx context.Context, a *app, p *plugin.Plugin) error {
		res := p.BlockApps(ctx, plugin.BlockRequest{
			Packages:          args,
			Duration:          blockDuration,
			Layout:            blockLayout,
			NotificationTitle: notificationTitle,
			NotificationText:  notificationText,
		})
		return report(res, func(any) {
			fmt.Printf("Blocking %s for %s\n", strings.Join(args, ", "), usecase.HumanDuration(blockDuration))
		})
	})
}

func runUnblock(cmd *cobra.Command, args []string) error {
	return withPlugin(func(ctx context.Context, a *app, p *plugin.Plugin) error {
		res := p.UnblockApps(ctx, plugin.UnblockRequest{Packages: args})
		return report(res, func(any) {
			st, err := a.store.LoadBlock()
			if err == nil && st.Active(a.clock.Now()) {
				fmt.Printf("Still blocking: %s\n", strings.Join(st.BlockedPackages, ", "))
				return
			}
			fmt.Println("Block ended")
		})
	})
}

func runPause(cmd *cobra.Command, args []string) error {
	return withPlugin(func(ctx context.Context, a *app, p *plugin.Plugin) error {
		show := !pauseQuiet
		res := p.PauseBlockApps(ctx, plugin.PauseRequest{
			Duration:          pauseDuration,
			NotificationTitle: notificationTitle,
			NotificationText:  notificationText,
			ShowNotification:  &show,
		})
		if res.Status {
			a.ensureMonitor()
		}
		return report(res, func(data any) {
			if paused, _ := data.(bool); !paused {
				fmt.Println("Block had no time left and has ended")
				return
			}
			fmt.Printf("Paused for %s\n", usecase.HumanDuration(pauseDuration))
		})
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withPlugin(func(ctx context.Context, a *app, p *plugin.Plugin) error {
		blocking := p.IsOnBlockingApps(ctx)
		paused := p.IsBlockingPaused(ctx)
		schedules := p.GetActiveSchedules(ctx)
		if jsonOutput {
			return report(plugin.Result{Status: true, Data: map[string]any{
				"blocking":  blocking,
				"paused":    paused,
				"schedules": schedules,
			}}, nil)
		}

		fmt.Println("\n=== screentime Status ===")
		now := a.clock.Now()
		if active, _ := blocking.Data.(bool); active {
			st, err := a.store.LoadBlock()
			if err != nil {
				return err
			}
			fmt.Println("Status: BLOCKING")
			fmt.Printf("Remaining: %s\n", usecase.HumanDuration(st.Remaining(now)))
			fmt.Println("\nBlocked applications:")
			for _, pkg := range st.BlockedPackages {
				fmt.Printf("  - %s\n", pkg)
			}
		} else if ps, _ := paused.Data.(plugin.PauseStatus); ps.Paused {
			fmt.Println("Status: PAUSED")
			fmt.Printf("Resumes in: %s\n", usecase.HumanDuration(ps.RemainingPauseTime))
			fmt.Printf("Block time left after resume: %s\n", usecase.HumanDuration(ps.RemainingBlockTime))
		} else {
			fmt.Println("Status: IDLE")
		}

		if list, _ := schedules.Data.([]domain.BlockSchedule); len(list) > 0 {
			fmt.Printf("\nScheduled blocks: %d (see 'screentime schedule list')\n", len(list))
		}

		entry, err := a.db.GetAll()
		if err == nil && entry != nil {
			fmt.Println("\nDaemons:")
			fmt.Printf("  blocker: %s\n", liveness(a, entry.BlockerPID))
			fmt.Printf("  monitor: %s\n", liveness(a, entry.MonitorPID))
			if entry.LastHeartbeat > 0 {
				fmt.Printf("  last heartbeat: %s ago\n", now.Sub(time.Unix(entry.LastHeartbeat, 0)).Round(time.Second))
			}
		}

		if statusMetrics {
			fmt.Println("\nCounters:")
			if err := printMetricFiles(a.cfg.DataDir); err != nil {
				fmt.Printf("  unavailable: %v\n", err)
			}
		}
		fmt.Println("=========================")
		return nil
	})
}

func liveness(a *app, pid int) string {
	if pid == 0 || !a.pm.IsRunning(pid) {
		return "not running"
	}
	return "running"
}

// printMetricFiles prints the counter snapshots the daemons leave in dataDir.
func printMetricFiles(dataDir string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "metrics-*.prom"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	if len(files) == 0 {
		fmt.Println("  (no daemon has written counters yet)")
		return nil
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		fmt.Printf("  [%s]\n", strings.TrimSuffix(strings.TrimPrefix(filepath.Base(f), "metrics-"), ".prom"))
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			if line != "" {
				fmt.Printf("    %s\n", line)
			}
		}
	}
	return nil
}
