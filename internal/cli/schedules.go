package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/automation/internal/config"
	"github.com/roach88/automation/internal/model"
	"github.com/roach88/automation/internal/store"
)

// SchedulesOptions holds flags for the schedules command.
type SchedulesOptions struct {
	*RootOptions
	Database string
	Group    string
}

// ScheduleSummary is one persisted schedule as listed by the schedules
// command.
type ScheduleSummary struct {
	ID              string    `json:"id"`
	Group           string    `json:"group,omitempty"`
	Type            string    `json:"type"`
	Priority        int       `json:"priority"`
	State           string    `json:"state"`
	StateChangeDate time.Time `json:"state_change_date"`
	ExecutionCount  int       `json:"execution_count"`
	Limit           int       `json:"limit"`
	Spent           bool      `json:"spent"`
}

// NewSchedulesCommand creates the schedules command.
func NewSchedulesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchedulesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "List persisted schedules",
		Long: `List the schedules stored in the engine database in restore order
(priority, then creation time, then id).

Spent schedules (expired or over their limit) are listed until the engine
removes them.

Examples:
  automation schedules --db ./automation.db
  automation schedules --db ./automation.db --group onboarding --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedules(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Group, "group", "", "only list schedules in this group")

	return cmd
}

func runSchedules(opts *SchedulesOptions, cmd *cobra.Command) error {
	formatter := NewOutputFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return formatter.Fail(ErrCodeConfig, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	// Listing never creates a database.
	if _, err := os.Stat(cfg.Database); errors.Is(err, fs.ErrNotExist) {
		return formatter.Fail(ErrCodeNotFound, "database not found",
			fmt.Errorf("database not found: %s: %w", cfg.Database, fs.ErrNotExist))
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return formatter.Fail(ErrCodeStoreFailed, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	var records []model.ScheduleData
	if opts.Group != "" {
		records, err = st.GetSchedulesByGroup(ctx, opts.Group)
	} else {
		records, err = st.GetSchedules(ctx)
	}
	if err != nil {
		return formatter.Fail(ErrCodeStoreFailed, "failed to read schedules", err)
	}
	formatter.VerboseLog("Read %d schedule(s) from %s", len(records), cfg.Database)

	now := time.Now()
	summaries := make([]ScheduleSummary, 0, len(records))
	for _, d := range records {
		summaries = append(summaries, ScheduleSummary{
			ID:              d.Schedule.Identifier,
			Group:           d.Schedule.Group,
			Type:            string(d.Schedule.Type),
			Priority:        d.Schedule.Priority,
			State:           string(d.State),
			StateChangeDate: d.StateChangeDate.UTC(),
			ExecutionCount:  d.ExecutionCount,
			Limit:           d.Schedule.Limit,
			Spent:           d.ShouldDelete(now),
		})
	}

	if formatter.Format == "json" {
		return formatter.List(summaries, len(summaries))
	}
	return outputSchedulesText(formatter, summaries)
}

func outputSchedulesText(formatter *OutputFormatter, summaries []ScheduleSummary) error {
	if len(summaries) == 0 {
		fmt.Fprintln(formatter.Writer, "No schedules.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGROUP\tTYPE\tPRIORITY\tSTATE\tCOUNT\tSINCE")
	for _, s := range summaries {
		state := s.State
		if s.Spent {
			state += " (spent)"
		}
		group := s.Group
		if group == "" {
			group = "-"
		}
		count := fmt.Sprintf("%d", s.ExecutionCount)
		if s.Limit > 0 {
			count = fmt.Sprintf("%d/%d", s.ExecutionCount, s.Limit)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			s.ID, group, s.Type, s.Priority, state, count, s.StateChangeDate.Format(time.RFC3339))
	}
	return tw.Flush()
}
