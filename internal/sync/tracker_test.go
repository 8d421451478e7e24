package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_DropsWhenDisabled(t *testing.T) {
	tr := New(nil, 0)
	tr.Record(1000, 1000, 1)
	assert.Empty(t, tr.Window(1000))
}

func TestRecord_DropsStaleSample(t *testing.T) {
	tr := New(nil, 0)
	tr.Enable()
	tr.Record(10_000_000, 10_000_000-200_000, 1)
	assert.Empty(t, tr.Window(1000), "sample with |delta|>=100ms must be rejected")
	assert.EqualValues(t, 1, tr.RejectedCount())
}

func TestRecord_DropsMissingStimulusTimestamp(t *testing.T) {
	tr := New(nil, 0)
	tr.Enable()
	tr.Record(1_000_000, 0, 1)
	assert.Empty(t, tr.Window(1000))
}

func TestRecord_AcceptsWithinThreshold(t *testing.T) {
	tr := New(nil, 0)
	tr.Enable()
	tr.Record(1_000_000, 1_000_050, 1)
	window := tr.Window(1000)
	require.Len(t, window, 1)
	assert.Equal(t, int64(-50), window[0].SignedDeltaUs)
}

func TestWindow_FreezesOnLatestSampleAnchor(t *testing.T) {
	tr := New(nil, 0)
	tr.Enable()
	tr.Record(1_000_000, 1_000_000, 1)
	tr.Record(2_000_000, 2_000_000, 2)

	first := tr.Window(0.5)
	second := tr.Window(0.5)
	assert.Equal(t, first, second, "window must be anchored on the latest sample, not wall clock")
}

func TestStats_UniformDeltas(t *testing.T) {
	tr := New(nil, 0)
	tr.Enable()
	for i := 0; i < 1000; i++ {
		camTs := int64(1_000_000 + i*1000)
		delta := int64(i%11) - 5 // spread across [-5,5]us
		tr.Record(camTs, camTs-delta, uint64(i))
	}

	stats := tr.Stats(1000)
	assert.Equal(t, 1000, stats.Count)
	assert.Equal(t, 1000, stats.MatchedCount)
	assert.Len(t, stats.Histogram, histogramBins)
}

func TestClear_ResetsHistoryAndRejectedCount(t *testing.T) {
	tr := New(nil, 0)
	tr.Enable()
	tr.Record(1_000_000, 1_000_000-200_000, 1) // rejected
	tr.Record(2_000_000, 2_000_000, 2)          // accepted

	tr.Clear()
	assert.Empty(t, tr.Window(1000))
	assert.Zero(t, tr.RejectedCount())
}

func TestRecord_RingBufferWraps(t *testing.T) {
	tr := New(nil, 4)
	tr.Enable()
	for i := 1; i <= 6; i++ {
		ts := int64(i * 1_000_000)
		tr.Record(ts, ts, uint64(i))
	}

	window := tr.Window(1000)
	require.Len(t, window, 4)
	assert.EqualValues(t, 3, window[0].FrameID)
	assert.EqualValues(t, 6, window[3].FrameID)
}
