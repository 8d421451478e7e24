package analysis

import (
	"math"
	"testing"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticFrames builds a 2x1 frame stack where pixel 0 is a pure cosine
// at stimulusFreqHz (phase 0) and pixel 1 is a pure sine (phase -pi/2),
// sampled at sampleRateHz, so Compute's extracted phase is checkable.
func syntheticFrames(n int, sampleRateHz, stimulusFreqHz float64) []model.CameraFrame {
	frames := make([]model.CameraFrame, n)
	for t := 0; t < n; t++ {
		phaseStep := 2 * math.Pi * stimulusFreqHz * float64(t) / sampleRateHz
		cosVal := 128 + 100*math.Cos(phaseStep)
		sinVal := 128 + 100*math.Sin(phaseStep)
		frames[t] = model.CameraFrame{
			Pixels:   []byte{byte(cosVal), byte(sinVal)},
			Width:    2, Height: 1, Channels: 1,
		}
	}
	return frames
}

func TestCompute_ExtractsPhaseFromSyntheticSignal(t *testing.T) {
	frames := syntheticFrames(60, 30, 1)
	pm, err := Compute(frames, 30, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, pm.Width)
	assert.Equal(t, 1, pm.Height)
	assert.InDelta(t, 0, pm.Phase[0], 0.2)
	assert.InDelta(t, -math.Pi/2, pm.Phase[1], 0.2)
	assert.Greater(t, pm.Magnitude[0], 10.0)
}

func TestCompute_RejectsTooFewFrames(t *testing.T) {
	_, err := Compute([]model.CameraFrame{{Width: 1, Height: 1, Channels: 1, Pixels: []byte{0}}}, 30, 1)
	assert.Error(t, err)
}

func TestCompute_RejectsMismatchedFrameSize(t *testing.T) {
	frames := syntheticFrames(4, 30, 1)
	frames[2].Width = 99
	_, err := Compute(frames, 30, 1)
	assert.Error(t, err)
}

func TestCompute_RejectsOutOfRangeStimulusFrequency(t *testing.T) {
	frames := syntheticFrames(4, 30, 1)
	_, err := Compute(frames, 30, 1000)
	assert.Error(t, err)
}

func TestStimulusFrequencyHz_InvertsSweepDuration(t *testing.T) {
	assert.InDelta(t, 0.5, StimulusFrequencyHz(2), 1e-9)
	assert.Equal(t, 0.0, StimulusFrequencyHz(0))
}
