package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// onceSchedule fires a single time at an absolute instant. Once the instant
// has passed Next returns the zero time, which cron treats as "never".
type onceSchedule struct {
	at time.Time
}

func (s onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

// dailySpec is a standard cron spec pinned to the job's own timezone.
func dailySpec(hour, minute int, loc *time.Location) string {
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", loc.String(), minute, hour)
}

func parseDaily(hour, minute int, loc *time.Location) (cron.Schedule, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("%w: time %02d:%02d out of range", ErrInvalidJob, hour, minute)
	}
	if loc == nil {
		return nil, fmt.Errorf("%w: daily job needs a location", ErrInvalidJob)
	}
	return cron.ParseStandard(dailySpec(hour, minute, loc))
}

// previewNextRuns returns a short, human-friendly list of upcoming run times.
func previewNextRuns(sched cron.Schedule, from time.Time, n int) string {
	var b strings.Builder
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04 MST"))
	}
	return b.String()
}
