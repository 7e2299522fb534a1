package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock(t *testing.T) {
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	clk := NewMockClock(start)

	assert.Equal(t, start, clk.Now())
	assert.Equal(t, start.UnixMilli(), clk.NowUnixMilli())

	clk.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clk.Now())

	later := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	clk.Set(later)
	assert.Equal(t, later, clk.Now())
}

func TestRealClockAdvances(t *testing.T) {
	var clk RealClock
	first := clk.NowUnixMilli()
	second := clk.NowUnixMilli()
	assert.GreaterOrEqual(t, second, first)
}
