package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalSchedule_Next(t *testing.T) {
	s := NewIntervalSchedule(15 * time.Minute)

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(15*time.Minute), s.Next(now))
	assert.Equal(t, "@every 15m0s", s.String())
}

func TestParseCronExpression_Invalid(t *testing.T) {
	_, err := ParseCronExpression("not a cron")
	assert.Error(t, err)

	_, err = ParseCronExpression("* * * *")
	assert.Error(t, err)

	_, err = ParseCronExpression("61 * * * *")
	assert.Error(t, err)
}

func TestCronExpression_NextDaily(t *testing.T) {
	expr, err := ParseCronExpression(EveryDay3AM)
	require.NoError(t, err)
	assert.Equal(t, EveryDay3AM, expr.String())

	afternoon := time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC), expr.Next(afternoon))

	night := time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC), expr.Next(night))
}

func TestCronExpression_NextHourly(t *testing.T) {
	expr := MustParseCronExpression(EveryHour)

	after := time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC), expr.Next(after))
}

func TestCronExpression_StepAndRange(t *testing.T) {
	// Every 15 minutes during working hours on weekdays.
	expr := MustParseCronExpression("*/15 9-17 * * 1-5")

	fridayEvening := time.Date(2025, 3, 7, 18, 0, 0, 0, time.UTC)
	next := expr.Next(fridayEvening)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), next, "skips the weekend to Monday morning")

	midMorning := time.Date(2025, 3, 10, 9, 7, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC), expr.Next(midMorning))
}
