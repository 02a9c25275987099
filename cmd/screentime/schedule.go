package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/plugin"
	"github.com/eliteGoblin/focusd/screentime/internal/usecase"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled blocks",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <package>...",
	Short: "Schedule a block",
	Long: `Registers a block that starts at --start and lasts --duration.
--start takes RFC 3339 or HH:MM (the next such time). With --recurring the
block repeats daily, or only on --days (e.g. mon,wed,fri).
Reusing an --id replaces that schedule.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScheduleAdd,
}

var scheduleCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a scheduled block",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleCancel,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled blocks",
	RunE:  runScheduleList,
}

var (
	scheduleID        string
	scheduleStart     string
	scheduleDuration  time.Duration
	scheduleRecurring bool
	scheduleDays      string
	scheduleDisabled  bool
)

func init() {
	scheduleAddCmd.Flags().StringVar(&scheduleID, "id", "", "Schedule id (generated if empty)")
	scheduleAddCmd.Flags().StringVar(&scheduleStart, "start", "", "Start time, RFC 3339 or HH:MM")
	scheduleAddCmd.Flags().DurationVarP(&scheduleDuration, "duration", "d", 0, "Block duration")
	scheduleAddCmd.Flags().BoolVar(&scheduleRecurring, "recurring", false, "Repeat every matching day")
	scheduleAddCmd.Flags().StringVar(&scheduleDays, "days", "", "Comma separated weekdays for recurring blocks")
	scheduleAddCmd.Flags().BoolVar(&scheduleDisabled, "disabled", false, "Register disabled (removes an existing schedule with this id)")
	_ = scheduleAddCmd.MarkFlagRequired("start")
	_ = scheduleAddCmd.MarkFlagRequired("duration")

	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleCancelCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	days, err := parseWeekdays(scheduleDays)
	if err != nil {
		return err
	}
	return withPlugin(func(ctx context.Context, a *app, p *plugin.Plugin) error {
		start, err := parseStart(scheduleStart, a.clock.Now())
		if err != nil {
			return err
		}
		res := p.ScheduleBlock(ctx, plugin.ScheduleRequest{
			ID:         scheduleID,
			Packages:   args,
			StartTime:  start,
			Duration:   scheduleDuration,
			Recurring:  scheduleRecurring,
			DaysOfWeek: days,
			Disabled:   scheduleDisabled,
		})
		if res.Status {
			a.ensureMonitor()
		}
		return report(res, func(data any) {
			sr := data.(plugin.ScheduleResult)
			if !sr.Active {
				fmt.Printf("Schedule %s is not active (disabled or already past)\n", sr.ID)
				return
			}
			fmt.Printf("Scheduled %s: %s at %s for %s\n", sr.ID, strings.Join(args, ", "),
				start.Local().Format("Mon 15:04"), usecase.HumanDuration(scheduleDuration))
		})
	})
}

func runScheduleCancel(cmd *cobra.Command, args []string) error {
	return withPlugin(func(ctx context.Context, a *app, p *plugin.Plugin) error {
		res := p.CancelScheduledBlock(ctx, plugin.CancelScheduleRequest{ID: args[0]})
		return report(res, func(any) {
			fmt.Printf("Cancelled %s\n", args[0])
		})
	})
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	return withPlugin(func(ctx context.Context, a *app, p *plugin.Plugin) error {
		return report(p.GetActiveSchedules(ctx), func(data any) {
			list, _ := data.([]domain.BlockSchedule)
			if len(list) == 0 {
				fmt.Println("No scheduled blocks.")
				return
			}
			fmt.Println("\n=== Scheduled Blocks ===")
			for _, s := range list {
				fmt.Printf("\n[%s]\n", s.ID)
				fmt.Printf("  Apps: %s\n", strings.Join(s.Packages, ", "))
				fmt.Printf("  Start: %s\n", s.StartTime.Local().Format(time.RFC3339))
				fmt.Printf("  Duration: %s\n", usecase.HumanDuration(s.Duration))
				if s.IsRecurring {
					fmt.Printf("  Repeats: %s\n", formatWeekdays(s.DaysOfWeek))
				}
			}
			fmt.Println("\n========================")
		})
	})
}

// parseStart accepts RFC 3339, or HH:MM meaning the next such wall-clock time after now.
func parseStart(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	clock, err := time.ParseInLocation("15:04", s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start %q: want RFC 3339 or HH:MM", s)
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if !start.After(now) {
		start = start.AddDate(0, 0, 1)
	}
	return start, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// parseWeekdays parses "mon,wed,fri". Empty means every day.
func parseWeekdays(s string) ([]time.Weekday, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var days []time.Weekday
	seen := make(map[time.Weekday]bool)
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if len(name) > 3 {
			name = name[:3]
		}
		day, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	return days, nil
}

func formatWeekdays(days []time.Weekday) string {
	if len(days) == 0 {
		return "daily"
	}
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()[:3]
	}
	return strings.Join(names, ", ")
}
