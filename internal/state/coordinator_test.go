package state

import (
	"testing"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestTransitionTo_RecordingBlocksPreviewAndPlayback(t *testing.T) {
	c := New(nil)
	assert.True(t, c.TransitionTo(model.ModeRecording))

	assert.False(t, c.TransitionTo(model.ModePreview))
	assert.False(t, c.TransitionTo(model.ModePlayback))
	assert.Equal(t, model.ModeRecording, c.Mode())
}

func TestTransitionTo_AnyModeCanReturnToIdle(t *testing.T) {
	c := New(nil)
	require := assert.New(t)
	require.True(c.TransitionTo(model.ModeRecording))
	require.True(c.TransitionTo(model.ModeIdle))
	require.Equal(model.ModeIdle, c.Mode())
}

func TestTransitionTo_IdleResetsFlags(t *testing.T) {
	c := New(nil)
	c.TransitionTo(model.ModeRecording)
	c.SetCameraActive(true)
	c.SetStimulusActive(true)
	c.SetAcquisitionRunning(true)
	c.SetSessionName("sess1")

	c.TransitionTo(model.ModeIdle)

	snap := c.Snapshot()
	assert.False(t, snap.CameraActive)
	assert.False(t, snap.StimulusActive)
	assert.False(t, snap.AcquisitionRunning)
	assert.Empty(t, snap.SessionName)
}

func TestTransitionTo_AfterStopRecordingAllowsPreview(t *testing.T) {
	c := New(nil)
	c.TransitionTo(model.ModeRecording)
	c.TransitionTo(model.ModeIdle)
	assert.True(t, c.TransitionTo(model.ModePreview))
}
