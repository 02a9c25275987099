package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/infra"
	"github.com/eliteGoblin/focusd/screentime/internal/plugin"
	"github.com/eliteGoblin/focusd/screentime/internal/usecase"
)

var usageCmd = &cobra.Command{
	Use:   "usage [package]...",
	Short: "Show app usage (default: last 24 hours)",
	RunE:  runUsage,
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List installed applications",
	RunE:  runApps,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print the foreground app each time it changes",
	Long: `Streams foreground-app changes until interrupted. With --from/--to the
current app is reported once, together with whether now falls in that daily window.`,
	RunE: runMonitor,
}

var permissionCmd = &cobra.Command{
	Use:   "permission <appUsage|drawOverlay|accessibilitySettings|notification>",
	Short: "Show, or with --request ask for, a permission",
	Args:  cobra.ExactArgs(1),
	RunE:  runPermission,
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Usage journal maintenance",
}

var journalRecordCmd = &cobra.Command{
	Use:   "record <package>",
	Short: "Record a foreground (or --background) transition",
	Long: `Appends one event to the usage journal. Window-manager hooks call this
whenever the frontmost application changes.`,
	Args: cobra.ExactArgs(1),
	RunE: runJournalRecord,
}

var (
	usageSince     time.Duration
	usageInterval  string
	appsAll        bool
	monitorInt     string
	monitorLook    time.Duration
	monitorFrom    string
	monitorTo      string
	permRequest    bool
	journalBgEvent bool
)

func init() {
	usageCmd.Flags().DurationVar(&usageSince, "since", 0, "How far back to look (default 24h)")
	usageCmd.Flags().StringVar(&usageInterval, "interval", "", "Aggregation: daily, weekly, monthly, yearly, best")

	appsCmd.Flags().BoolVar(&appsAll, "all", false, "Include system applications")

	monitorCmd.Flags().StringVar(&monitorInt, "interval", "", "Aggregation used for sampling")
	monitorCmd.Flags().DurationVar(&monitorLook, "lookback", 0, "How far back a sample may come from")
	monitorCmd.Flags().StringVar(&monitorFrom, "from", "", "Window start HH:MM")
	monitorCmd.Flags().StringVar(&monitorTo, "to", "", "Window end HH:MM")

	permissionCmd.Flags().BoolVar(&permRequest, "request", false, "Open the grant flow")

	journalRecordCmd.Flags().BoolVar(&journalBgEvent, "background", false, "Record a move to background")
	journalCmd.AddCommand(journalRecordCmd)

	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(permissionCmd)
	rootCmd.AddCommand(journalCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	return withPlugin(func(ctx context.Context, a *app, p *plugin.Plugin) error {
		req := plugin.UsageRequest{
			Interval: domain.UsageInterval(usageInterval),
			Packages: args,
		}
		if usageSince > 0 {
			start := a.clock.Now().Add(-usageSince)
			req.Start = &start
		}
		return report(p.AppUsageData(ctx, req), func(data any) {
			records, _ := data.([]domain.UsageRecord)
			if len(records) == 0 {
				fmt.Println("No usage recorded.")
				return
			}
			fmt.Println("\n=== App Usage ===")
			for _, r := range records {
				fmt.Printf("  %-32s %s\n", r.AppName, usecase.HumanDuration(r.UsageTime))
			}
			fmt.Println("=================")
		})
	})
}

func runApps(cmd *cobra.Command, args []string) error {
	return withPlugin(func(ctx context.Context, a *app, p *plugin.Plugin) error {
		return report(p.InstalledApps(ctx, plugin.InstalledAppsRequest{IgnoreSystemApps: !appsAll}), func(data any) {
			apps, _ := data.([]domain.AppInfo)
			for _, info := range apps {
				fmt.Printf("  %-32s %s\n", info.Name, info.Package)
			}
		})
	})
}

func runMonitor(cmd *cobra.Command, args []string) error {
	return withPlugin(func(ctx context.Context, a *app, p *plugin.Plugin) error {
		if monitorFrom != "" || monitorTo != "" {
			return monitorWindow(ctx, p)
		}

		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sub, err := p.ForegroundAppChanges(ctx, plugin.StreamRequest{
			Interval: domain.UsageInterval(monitorInt),
			Lookback: monitorLook,
		})
		if err != nil {
			return err
		}
		defer sub.Close()

		fmt.Fprintln(os.Stderr, "Watching foreground app, Ctrl-C to stop")
		for sample := range sub.C() {
			if jsonOutput {
				_ = report(plugin.Result{Status: true, Data: sample}, nil)
				continue
			}
			fmt.Printf("%s  %s\n", sample.LastTimeUsed.Local().Format("15:04:05"), sample.PackageName)
		}
		return nil
	})
}

func monitorWindow(ctx context.Context, p *plugin.Plugin) error {
	from, err := parseClock(monitorFrom, "00:00")
	if err != nil {
		return err
	}
	to, err := parseClock(monitorTo, "23:59")
	if err != nil {
		return err
	}
	res := p.MonitoringAppUsage(ctx, plugin.MonitoringRequest{
		StartHour:   from.Hour(),
		StartMinute: from.Minute(),
		EndHour:     to.Hour(),
		EndMinute:   to.Minute(),
		Interval:    domain.UsageInterval(monitorInt),
		Lookback:    monitorLook,
	})
	return report(res, func(data any) {
		md := data.(plugin.MonitoringData)
		fmt.Printf("Window %s-%s, inside: %t\n", md.StartTime, md.EndTime, md.InWindow)
		if md.Current != nil {
			fmt.Printf("Foreground: %s (%s ago)\n", md.Current.PackageName, md.Current.TimeAgo.Round(time.Second))
		} else {
			fmt.Println("Foreground: unknown")
		}
	})
}

func parseClock(s, fallback string) (time.Time, error) {
	if s == "" {
		s = fallback
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	return t, nil
}

func runPermission(cmd *cobra.Command, args []string) error {
	return withPlugin(func(ctx context.Context, a *app, p *plugin.Plugin) error {
		req := plugin.PermissionRequest{Kind: domain.PermissionKind(args[0])}
		if permRequest {
			return report(p.RequestPermission(ctx, req), func(data any) {
				if launched, _ := data.(bool); launched {
					fmt.Println("Grant flow opened")
				} else {
					fmt.Println("Nothing to request")
				}
			})
		}
		return report(p.PermissionStatus(ctx, req), func(data any) {
			fmt.Printf("%s: %v\n", args[0], data)
		})
	})
}

func runJournalRecord(cmd *cobra.Command, args []string) error {
	logger := createCLILogger()
	defer func() { _ = logger.Sync() }()

	_, cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	ev := domain.UsageEvent{PackageName: args[0], Type: domain.EventMoveToForeground, Time: time.Now()}
	if journalBgEvent {
		ev.Type = domain.EventMoveToBackground
	}
	return infra.NewUsageJournal(cfg.JournalPath, logger).Append(context.Background(), ev)
}
