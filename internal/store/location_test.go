package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeekdayIndex(t *testing.T) {
	assert.Equal(t, 1, weekdayIndex(time.Monday))
	assert.Equal(t, 7, weekdayIndex(time.Sunday))
	assert.Equal(t, 3, weekdayIndex(time.Wednesday))
}

func TestWeekdayIndexNextDayFallback(t *testing.T) {
	// A movement planned just after midnight on Monday whose schedule stop
	// is flagged next_day falls back to matching Sunday's days_run bit.
	assert.Equal(t, weekdayIndex(time.Sunday), weekdayIndex(time.Monday-1))
	assert.Equal(t, 6, weekdayIndex(time.Sunday-1))
}
