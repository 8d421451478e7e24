package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticCamera_CaptureBeforeOpenErrors(t *testing.T) {
	c := NewSyntheticCamera(4, 4, false)
	_, err := c.Capture()
	assert.Error(t, err)
}

func TestSyntheticCamera_FramesEncodeCounter(t *testing.T) {
	c := NewSyntheticCamera(2, 2, false)
	require.NoError(t, c.Open(30))

	f0, err := c.Capture()
	require.NoError(t, err)
	assert.Equal(t, byte(0), f0.Pixels[0])
	assert.False(t, f0.HasHardwareTimestamp)

	f1, err := c.Capture()
	require.NoError(t, err)
	assert.Equal(t, byte(1), f1.Pixels[0])
}

func TestSyntheticCamera_SimulatedHardwareTimestampAdvances(t *testing.T) {
	c := NewSyntheticCamera(2, 2, true)
	require.NoError(t, c.Open(10))

	f0, err := c.Capture()
	require.NoError(t, err)
	require.True(t, f0.HasHardwareTimestamp)

	f1, err := c.Capture()
	require.NoError(t, err)
	assert.Greater(t, f1.HardwareTimestampUs, f0.HardwareTimestampUs)
}

func TestSyntheticCamera_OpenRejectsNonPositiveFps(t *testing.T) {
	c := NewSyntheticCamera(2, 2, false)
	assert.Error(t, c.Open(0))
}
