package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"remindbot/internal/intent"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

var (
	parseTZ   string
	parseChat int64
	parseAt   string
)

// parseCmd runs a message through the router against a scheduler that is
// never started, so nothing is delivered.
var parseCmd = &cobra.Command{
	Use:   "parse <message>",
	Short: "Show how a message would be routed",
	Example: `  remindbot parse "reunión mañana a las 15:30"
  remindbot parse --at 2024-05-01T22:00 "tomar agua todos los días a las 8"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sched := scheduler.New(scheduler.Config{Timezone: parseTZ}, logx.Nop(), nil)
		loc := sched.Location()

		now := time.Now().In(loc)
		if parseAt != "" {
			t, err := time.ParseInLocation("2006-01-02T15:04", parseAt, loc)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			now = t
		}

		noop := func(context.Context, int64, string) error { return nil }
		r := intent.NewRouter(sched, noop, logx.Nop(), nil)
		act := r.Handle(cmd.Context(), strings.Join(args, " "), parseChat, now)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "action: %s\n", act.Kind)
		if act.JobID != "" {
			fmt.Fprintf(out, "job:    %s (%s)\n", act.JobID, act.Outcome)
			for _, j := range sched.JobsFor(parseChat) {
				if j.ID == act.JobID {
					fmt.Fprintf(out, "fires:  %s\n", j.Next.In(loc).Format(time.RFC1123))
				}
			}
		}
		if act.Err != nil {
			fmt.Fprintf(out, "error:  %v\n", act.Err)
		}
		if act.Reply != "" {
			fmt.Fprintf(out, "reply:\n%s\n", act.Reply)
		}
		return nil
	},
}

func init() {
	parseCmd.Flags().StringVar(&parseTZ, "tz", "America/Argentina/Buenos_Aires", "timezone used to interpret times")
	parseCmd.Flags().Int64Var(&parseChat, "chat", 1, "destination chat id")
	parseCmd.Flags().StringVar(&parseAt, "at", "", "pretend the message arrived at this local time (YYYY-MM-DDTHH:MM)")
}
