package camera

import (
	"testing"
	"time"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestTargetInterval_ZeroFpsIsZero(t *testing.T) {
	assert.Equal(t, time.Duration(0), TargetInterval(0))
}

func TestTargetInterval_MatchesPeriod(t *testing.T) {
	got := TargetInterval(50)
	assert.InDelta(t, float64(20*time.Millisecond), float64(got), float64(time.Microsecond))
}

func TestResolveTimestamp_PrefersHardware(t *testing.T) {
	f := Frame{HasHardwareTimestamp: true, HardwareTimestampUs: 42}
	ts, src, ok := ResolveTimestamp(f, true, time.Now)
	assert.True(t, ok)
	assert.Equal(t, int64(42), ts)
	assert.Equal(t, model.TimestampHardware, src)
}

func TestResolveTimestamp_SubstitutesInDevelopmentMode(t *testing.T) {
	f := Frame{}
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts, src, ok := ResolveTimestamp(f, true, func() time.Time { return fixed })
	assert.True(t, ok)
	assert.Equal(t, fixed.UnixMicro(), ts)
	assert.Equal(t, model.TimestampSoftwareDevMode, src)
}

func TestResolveTimestamp_FailsWithoutHardwareOutsideDevelopmentMode(t *testing.T) {
	f := Frame{}
	_, _, ok := ResolveTimestamp(f, false, time.Now)
	assert.False(t, ok)
}
