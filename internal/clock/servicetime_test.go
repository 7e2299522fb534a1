package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sydney(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Australia/Sydney")
	require.NoError(t, err)
	return loc
}

func TestServiceTimeAt(t *testing.T) {
	loc := sydney(t)

	// 2025-06-02 08:30:00 in Sydney, a Monday.
	instant := time.Date(2025, 6, 2, 8, 30, 0, 0, loc)
	st := ServiceTimeAt(instant, loc)

	assert.Equal(t, "2025-06-02", st.Date)
	assert.Equal(t, 8*3600+30*60, st.SecondsSinceMidnight)
	assert.Equal(t, 0, st.WeekdayIndex)
}

func TestServiceTimeAtConvertsFromUTC(t *testing.T) {
	loc := sydney(t)

	// 2025-06-01 22:30 UTC is 08:30 the next day in Sydney (AEST, +10).
	instant := time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC)
	st := ServiceTimeAt(instant, loc)

	assert.Equal(t, "2025-06-02", st.Date)
	assert.Equal(t, 8*3600+30*60, st.SecondsSinceMidnight)
	assert.Equal(t, 0, st.WeekdayIndex)
}

func TestServiceTimeAtMidnight(t *testing.T) {
	loc := sydney(t)

	st := ServiceTimeAt(time.Date(2025, 6, 8, 0, 0, 0, 0, loc), loc)
	assert.Equal(t, "2025-06-08", st.Date)
	assert.Equal(t, 0, st.SecondsSinceMidnight)
	assert.Equal(t, 6, st.WeekdayIndex) // Sunday
}

func TestPreviousDate(t *testing.T) {
	loc := sydney(t)

	st := ServiceTime{Date: "2025-06-02", SecondsSinceMidnight: 1200, WeekdayIndex: 0}
	prev := st.PreviousDate(loc)

	assert.Equal(t, "2025-06-01", prev.Date)
	assert.Equal(t, 6, prev.WeekdayIndex) // Sunday
	assert.Equal(t, 1200, prev.SecondsSinceMidnight)
}

func TestPreviousDateAcrossMonthBoundary(t *testing.T) {
	loc := sydney(t)

	st := ServiceTime{Date: "2025-07-01", SecondsSinceMidnight: 0, WeekdayIndex: 1}
	prev := st.PreviousDate(loc)

	assert.Equal(t, "2025-06-30", prev.Date)
	assert.Equal(t, 0, prev.WeekdayIndex) // Monday
}

func TestMondayFirstIndex(t *testing.T) {
	assert.Equal(t, 0, mondayFirstIndex(time.Monday))
	assert.Equal(t, 4, mondayFirstIndex(time.Friday))
	assert.Equal(t, 5, mondayFirstIndex(time.Saturday))
	assert.Equal(t, 6, mondayFirstIndex(time.Sunday))
}
