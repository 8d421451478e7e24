package stimulus

import (
	"math"
	"testing"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{
		MonitorWidthPx:      16,
		MonitorHeightPx:     12,
		MonitorWidthCm:      60,
		MonitorHeightCm:     40,
		MonitorDistanceCm:   20,
		FovHalfDeg:          45,
		BarWidthDeg:         10,
		CheckerSizeDeg:      15,
		DriftSpeedDegPerSec: 15,
		FlickerHz:           2,
		CameraFPS:           30,
	}
}

func TestTotalFrames_MatchesFormula(t *testing.T) {
	p := testParams()
	n := TotalFrames(p, p.CameraFPS)
	expected := int(math.Round(SweepDegrees(p) / p.DriftSpeedDegPerSec * p.CameraFPS))
	assert.Equal(t, expected, n)
}

func TestAngle_LRRangesAcrossSweep(t *testing.T) {
	p := testParams()
	n := 10
	start := Angle(model.LR, 0, n, p)
	end := Angle(model.LR, n-1, n, p)
	half := p.FovHalfDeg + p.BarWidthDeg
	assert.InDelta(t, -half, start, 1e-9)
	assert.InDelta(t, half, end, 1e-9)
}

func TestAngle_ReverseDirectionReplaysForwardPathBackward(t *testing.T) {
	p := testParams()
	n := 12
	for i := 0; i < n; i++ {
		assert.InDelta(t, Angle(model.LR, n-1-i, n, p), Angle(model.RL, i, n, p), 1e-9)
		assert.InDelta(t, Angle(model.TB, n-1-i, n, p), Angle(model.BT, i, n, p), 1e-9)
	}
}

func TestGenerate_ProducesExpectedDimensions(t *testing.T) {
	p := testParams()
	g := New(p)
	frame, err := g.Generate(model.LR, 0, 10, true)
	require.NoError(t, err)
	assert.Equal(t, p.MonitorHeightPx, frame.Height)
	assert.Equal(t, p.MonitorWidthPx, frame.Width)
	assert.Len(t, frame.Pixels, p.MonitorHeightPx*p.MonitorWidthPx)
}

func TestGenerate_RejectsOutOfRangeIndex(t *testing.T) {
	g := New(testParams())
	_, err := g.Generate(model.LR, 10, 10, true)
	assert.Error(t, err)
}

func TestSetParams_InvalidatesOnlyOnChange(t *testing.T) {
	g := New(testParams())
	_, err := g.Generate(model.LR, 0, 10, true)
	require.NoError(t, err)

	same := testParams()
	assert.False(t, g.SetParams(same), "identical params must not invalidate cache")

	changed := testParams()
	changed.MonitorWidthPx = 32
	assert.True(t, g.SetParams(changed), "different params must invalidate cache")
}
