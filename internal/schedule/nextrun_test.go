package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"reportflow/internal/types"
)

func TestNextRun_Daily(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	next, degraded := NextRun(types.FrequencyDaily, "", "UTC", now)
	assert.False(t, degraded)
	assert.Equal(t, now.Add(24*time.Hour), next)
}

func TestNextRun_Weekly(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	next, degraded := NextRun(types.FrequencyWeekly, "", "UTC", now)
	assert.False(t, degraded)
	assert.Equal(t, now.AddDate(0, 0, 7), next)
}

func TestNextRun_MonthlyClampsToShorterMonth(t *testing.T) {
	// Jan 31 has no counterpart in February.
	now := time.Date(2026, 1, 31, 8, 30, 0, 0, time.UTC)

	next, degraded := NextRun(types.FrequencyMonthly, "", "UTC", now)
	assert.False(t, degraded)
	assert.Equal(t, time.Date(2026, 2, 28, 8, 30, 0, 0, time.UTC), next)
}

func TestNextRun_MonthlyClampsToLeapDay(t *testing.T) {
	now := time.Date(2028, 1, 31, 8, 30, 0, 0, time.UTC)

	next, _ := NextRun(types.FrequencyMonthly, "", "UTC", now)
	assert.Equal(t, time.Date(2028, 2, 29, 8, 30, 0, 0, time.UTC), next)
}

func TestNextRun_MonthlyDecemberWrapsYear(t *testing.T) {
	now := time.Date(2026, 12, 15, 6, 0, 0, 0, time.UTC)

	next, _ := NextRun(types.FrequencyMonthly, "", "UTC", now)
	assert.Equal(t, time.Date(2027, 1, 15, 6, 0, 0, 0, time.UTC), next)
}

func TestNextRun_CustomCronInTimezone(t *testing.T) {
	// 08:00 every weekday in New York; asked at 14:00 UTC on a Monday
	// (09:00 EST), so the next activation is Tuesday 08:00 EST.
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	next, degraded := NextRun(types.FrequencyCustom, "0 8 * * 1-5", "America/New_York", now)
	assert.False(t, degraded)
	assert.Equal(t, time.Date(2026, 3, 3, 13, 0, 0, 0, time.UTC), next)
}

func TestNextRun_CustomMissingExpressionDegrades(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	next, degraded := NextRun(types.FrequencyCustom, "", "UTC", now)
	assert.True(t, degraded)
	assert.Equal(t, now.Add(24*time.Hour), next)
}

func TestNextRun_CustomBadExpressionDegrades(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	next, degraded := NextRun(types.FrequencyCustom, "not a cron", "UTC", now)
	assert.True(t, degraded)
	assert.Equal(t, now.Add(24*time.Hour), next)
}

func TestNextRun_UnknownTimezoneDegradesToUTC(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	next, degraded := NextRun(types.FrequencyDaily, "", "Mars/Olympus", now)
	assert.True(t, degraded)
	assert.Equal(t, now.Add(24*time.Hour), next)
}

func TestNextRun_AlwaysReturnsUTC(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	next, _ := NextRun(types.FrequencyWeekly, "", "Asia/Tokyo", now)
	assert.Equal(t, time.UTC, next.Location())
}
