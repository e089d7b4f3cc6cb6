// Package schedule computes when a report schedule is next due.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"reportflow/internal/types"
)

// cronParser accepts the standard five-field cron syntax plus descriptors
// like @daily. Seconds are not supported; dispatch resolution is one minute.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextRun computes the next occurrence after now for the given cadence,
// evaluated in the schedule's timezone and returned in UTC.
//
// DAILY adds 24 hours, WEEKLY adds 7 days, MONTHLY adds one calendar month
// with the day-of-month clamped to the target month's length (a run on
// Jan 31 lands on Feb 28, or Feb 29 in a leap year). CUSTOM follows the
// cron expression.
//
// NextRun never fails. An unknown timezone, an unknown frequency, or a
// CUSTOM schedule with a missing or unparseable expression falls back to
// DAILY and reports degraded=true so the caller can log it.
func NextRun(frequency types.Frequency, cronExpr, timezone string, now time.Time) (time.Time, bool) {
	degraded := false

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
		degraded = true
	}
	local := now.In(loc)

	switch frequency {
	case types.FrequencyDaily:
		return local.Add(24 * time.Hour).UTC(), degraded

	case types.FrequencyWeekly:
		return local.AddDate(0, 0, 7).UTC(), degraded

	case types.FrequencyMonthly:
		return addMonthClamped(local).UTC(), degraded

	case types.FrequencyCustom:
		if cronExpr != "" {
			if sched, perr := cronParser.Parse(cronExpr); perr == nil {
				return sched.Next(local).UTC(), degraded
			}
		}
		return local.Add(24 * time.Hour).UTC(), true

	default:
		return local.Add(24 * time.Hour).UTC(), true
	}
}

// addMonthClamped advances t by one calendar month, holding the wall-clock
// time and clamping the day to the target month's length instead of letting
// the overflow spill into the month after (time.AddDate turns Jan 31 + 1m
// into Mar 2 or Mar 3).
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	month++
	if month > time.December {
		month = time.January
		year++
	}
	if max := daysIn(year, month); day > max {
		day = max
	}
	hour, min, sec := t.Clock()
	return time.Date(year, month, day, hour, min, sec, t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month. Day 0 of the next
// month normalizes to the last day of this one.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
