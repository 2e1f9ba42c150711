package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyTrackerMeanAndPeak(t *testing.T) {
	var tr LatencyTracker
	base := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.Observe(base, base.Add(2*time.Second))
	tr.Observe(base, base.Add(4*time.Second))

	interval := tr.Flush()
	assert.Equal(t, 2, interval.Count)
	assert.Equal(t, 3*time.Second, interval.Mean)
	assert.Equal(t, 4*time.Second, interval.Peak)

	// flushing resets the accumulator
	assert.Equal(t, LatencyInterval{}, tr.Flush())
}

func TestLatencyTrackerIgnoresZeroQueueTimestamp(t *testing.T) {
	var tr LatencyTracker
	tr.Observe(time.Time{}, time.Now())
	assert.Equal(t, 0, tr.Flush().Count)
}

func TestAlarmStateRaisesOnceAndClearsOnce(t *testing.T) {
	a := AlarmState{Threshold: 5 * time.Second}

	raise, clear := a.Check(3 * time.Second)
	assert.False(t, raise)
	assert.False(t, clear)

	raise, clear = a.Check(10 * time.Second)
	assert.True(t, raise)
	assert.False(t, clear)

	// still above threshold: no repeat alert
	raise, clear = a.Check(11 * time.Second)
	assert.False(t, raise)
	assert.False(t, clear)

	raise, clear = a.Check(2 * time.Second)
	assert.False(t, raise)
	assert.True(t, clear)
}

func TestAlarmStateDisabledWithZeroThreshold(t *testing.T) {
	a := AlarmState{}
	raise, clear := a.Check(time.Hour)
	assert.False(t, raise)
	assert.False(t, clear)
}

func TestDailyStatsRotateAccumulatesGrandTotal(t *testing.T) {
	d := NewDailyStats()
	d.Add("activations", 3)
	d.Add("movements", 7)

	day1 := time.Date(2023, 6, 1, 4, 2, 0, 0, time.UTC)
	r1 := d.Rotate(day1)
	require.Equal(t, 3, r1.Counts["activations"])
	require.Equal(t, 3, r1.GrandTotal["activations"])

	d.Add("activations", 1)
	day2 := day1.AddDate(0, 0, 1)
	r2 := d.Rotate(day2)
	assert.Equal(t, 1, r2.Counts["activations"])
	assert.Equal(t, 4, r2.GrandTotal["activations"])
	assert.Equal(t, 7, r2.GrandTotal["movements"])
}

func TestDailyStatsRotateEmptyStillReturnsReport(t *testing.T) {
	d := NewDailyStats()
	r := d.Rotate(time.Now())
	assert.NotNil(t, r.Counts)
	assert.Empty(t, r.Counts)
}

func TestUntilRollsOverToTomorrow(t *testing.T) {
	now := time.Date(2023, 6, 1, 5, 0, 0, 0, time.UTC)
	d := until(now, 4, 2)
	want := time.Date(2023, 6, 2, 4, 2, 0, 0, time.UTC).Sub(now)
	assert.Equal(t, want, d)
}

func TestUntilLaterTodayStaysToday(t *testing.T) {
	now := time.Date(2023, 6, 1, 1, 0, 0, 0, time.UTC)
	d := until(now, 4, 2)
	want := time.Date(2023, 6, 1, 4, 2, 0, 0, time.UTC).Sub(now)
	assert.Equal(t, want, d)
}
