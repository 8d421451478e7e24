package recorder

import (
	"testing"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter is an in-memory Writer used by tests so they never touch
// libhdf5 or the filesystem.
type fakeWriter struct {
	stimulusEvents map[model.Direction][]StimulusEvent
	cameraFrames   map[model.Direction][]model.CameraFrame
	metadata       SessionMetadata
	failDirection  model.Direction
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		stimulusEvents: make(map[model.Direction][]StimulusEvent),
		cameraFrames:   make(map[model.Direction][]model.CameraFrame),
	}
}

func (w *fakeWriter) WriteStimulus(dir string, direction model.Direction, events []StimulusEvent, params StimulusFileParams) (uint16, error) {
	if direction == w.failDirection {
		return 0, assert.AnError
	}
	w.stimulusEvents[direction] = events
	return 1, nil
}

func (w *fakeWriter) WriteCamera(dir string, direction model.Direction, frames []model.CameraFrame, params CameraFileParams) (uint16, error) {
	w.cameraFrames[direction] = frames
	return 1, nil
}

func (w *fakeWriter) WriteEventsJSON(dir string, direction model.Direction, events []StimulusEvent) error {
	return nil
}

func (w *fakeWriter) WriteMetadata(dir string, meta SessionMetadata) error {
	w.metadata = meta
	return nil
}

func (w *fakeWriter) WriteAnatomical(dir string, data []byte, width, height, bitDepth int) error {
	return nil
}

func stubParams(model.Direction) StimulusFileParams { return StimulusFileParams{} }
func stubCamParams(model.Direction) CameraFileParams { return CameraFileParams{} }

func TestRecorder_AppendRequiresActiveDirection(t *testing.T) {
	r := New(newFakeWriter(), "/tmp/session", SessionMetadata{})
	err := r.AppendStimulusEvent(StimulusEvent{})
	assert.Error(t, err)

	err2 := r.AppendCameraFrame(model.CameraFrame{})
	assert.Error(t, err2)
}

func TestRecorder_FinalizeFlushesAllDirections(t *testing.T) {
	w := newFakeWriter()
	r := New(w, "/tmp/session", SessionMetadata{SessionName: "s1"})

	r.StartDirection(model.LR)
	require.NoError(t, r.AppendStimulusEvent(StimulusEvent{FrameIndex: 0, AngleDegrees: -10}))
	require.NoError(t, r.AppendCameraFrame(model.CameraFrame{Meta: model.CameraFrameMeta{FrameIndex: 0}}))
	r.FinishDirection()

	r.StartDirection(model.RL)
	require.NoError(t, r.AppendStimulusEvent(StimulusEvent{FrameIndex: 0, AngleDegrees: 10}))
	r.FinishDirection()

	require.NoError(t, r.Finalize(stubParams, stubCamParams))

	assert.Len(t, w.stimulusEvents[model.LR], 1)
	assert.Len(t, w.cameraFrames[model.LR], 1)
	assert.Len(t, w.stimulusEvents[model.RL], 1)
	assert.Equal(t, "s1", w.metadata.SessionName)
}

func TestRecorder_DirectionCountsTracksInProgressAndDone(t *testing.T) {
	w := newFakeWriter()
	r := New(w, "/tmp/session", SessionMetadata{})

	r.StartDirection(model.LR)
	require.NoError(t, r.AppendStimulusEvent(StimulusEvent{}))
	events, frames := r.DirectionCounts(model.LR)
	assert.Equal(t, 1, events)
	assert.Equal(t, 0, frames)

	r.FinishDirection()
	events, frames = r.DirectionCounts(model.LR)
	assert.Equal(t, 1, events)
	assert.Equal(t, 0, frames)
}

func TestRecorder_FinalizeFailsWithoutPartialCommit(t *testing.T) {
	w := newFakeWriter()
	w.failDirection = model.LR
	r := New(w, "/tmp/session", SessionMetadata{})

	r.StartDirection(model.LR)
	require.NoError(t, r.AppendStimulusEvent(StimulusEvent{}))
	r.FinishDirection()

	err := r.Finalize(stubParams, stubCamParams)
	assert.Error(t, err)
	assert.Empty(t, w.metadata.SessionName, "metadata must not be written when an earlier direction failed")
}
