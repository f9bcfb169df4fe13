// Package scheduler owns the reminder job set and the single robfig/cron loop
// that fires it.
//
// Two kinds of jobs exist:
//   - once: fires at an absolute instant, then is removed from the store
//   - daily: fires every day at a wall-clock time in its own timezone
//     (CRON_TZ spec, so DST transitions keep the local hour)
//
// Job identity is derived from the destination and the time, so repeated
// registrations collapse: a duplicate once job is dropped (first wins) and a
// repeated daily job replaces the previous one (last wins).
package scheduler
