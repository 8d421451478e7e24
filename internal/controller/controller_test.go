package controller

import (
	"testing"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/stimulus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() stimulus.Params {
	return stimulus.Params{
		MonitorWidthPx: 8, MonitorHeightPx: 6,
		MonitorWidthCm: 60, MonitorHeightCm: 40, MonitorDistanceCm: 20,
		FovHalfDeg: 45, BarWidthDeg: 10, CheckerSizeDeg: 15,
		DriftSpeedDegPerSec: 15, FlickerHz: 2, CameraFPS: 30,
	}
}

func TestStartDirection_ComputesExpectedFrameCount(t *testing.T) {
	c := New(stimulus.New(testParams()))
	p := testParams()
	n, err := c.StartDirection(model.LR, p)
	require.NoError(t, err)
	assert.Equal(t, stimulus.TotalFrames(p, p.CameraFPS), n)
}

func TestGenerateNextFrame_StopsAtN(t *testing.T) {
	p := testParams()
	c := New(stimulus.New(p))
	n, err := c.StartDirection(model.LR, p)
	require.NoError(t, err)

	count := 0
	for {
		_, ok, err := c.GenerateNextFrame(true)
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, n, count)
	assert.True(t, c.IsDirectionComplete())
}

func TestGenerateNextFrame_InactiveReturnsFalse(t *testing.T) {
	c := New(stimulus.New(testParams()))
	_, ok, err := c.GenerateNextFrame(true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStopDirection_ReportsPartialProgress(t *testing.T) {
	p := testParams()
	c := New(stimulus.New(p))
	n, err := c.StartDirection(model.LR, p)
	require.NoError(t, err)

	for i := 0; i < n/2; i++ {
		_, ok, err := c.GenerateNextFrame(true)
		require.NoError(t, err)
		require.True(t, ok)
	}

	result := c.StopDirection()
	assert.Equal(t, n/2, result.Generated)
	assert.Equal(t, n, result.Expected)
	assert.False(t, result.Complete)
}
