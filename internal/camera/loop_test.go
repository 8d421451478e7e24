package camera

import (
	"path/filepath"
	"testing"
	"time"

	busp "github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/bus"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	synctracker "github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *busp.Bus {
	t.Helper()
	dir := t.TempDir()
	b, err := busp.New(busp.Config{
		StimulusPath:     filepath.Join(dir, "stimulus.shm"),
		StimulusCapacity: 4096,
		CameraPath:       filepath.Join(dir, "camera.shm"),
		CameraCapacity:   4096,
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

type fakeRecorder struct {
	frames []model.CameraFrame
	failAt int
}

func (f *fakeRecorder) AppendCameraFrame(fr model.CameraFrame) error {
	if f.failAt >= 0 && len(f.frames) == f.failAt {
		return assert.AnError
	}
	f.frames = append(f.frames, fr)
	return nil
}

func TestLoop_CapturesAndPublishesFrames(t *testing.T) {
	b := newTestBus(t)
	tracker := synctracker.New(nil, 0)
	tracker.Enable()

	loop := NewLoop(Config{
		Camera:          NewSyntheticCamera(4, 4, false),
		Bus:             b,
		Tracker:         tracker,
		DevelopmentMode: true,
	})

	require.NoError(t, loop.Start(200, false, nil))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, loop.Stop())

	assert.Greater(t, tracker.Stats(10).Count+int(tracker.RejectedCount()), 0)
}

func TestLoop_RecordingAppendsToRecorder(t *testing.T) {
	b := newTestBus(t)
	rec := &fakeRecorder{failAt: -1}

	loop := NewLoop(Config{
		Camera:          NewSyntheticCamera(2, 2, false),
		Bus:             b,
		DevelopmentMode: true,
	})
	loop.SetRecorder(rec)

	require.NoError(t, loop.Start(500, true, nil))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, loop.Stop())

	assert.NotEmpty(t, rec.frames)
	assert.Equal(t, model.TimestampSoftwareDevMode, rec.frames[0].Meta.TimestampSource)
}

func TestLoop_RecordingFailureIsFatal(t *testing.T) {
	b := newTestBus(t)
	rec := &fakeRecorder{failAt: 0}

	loop := NewLoop(Config{
		Camera:          NewSyntheticCamera(2, 2, false),
		Bus:             b,
		DevelopmentMode: true,
	})
	loop.SetRecorder(rec)

	fatalCh := make(chan error, 1)
	require.NoError(t, loop.Start(500, true, func(err error) { fatalCh <- err }))

	select {
	case err := <-fatalCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected fatal callback on recorder failure")
	}
	loop.Stop()
}

func TestLoop_PreviewErrorsAreLoggedNotFatal(t *testing.T) {
	b := newTestBus(t)

	loop := NewLoop(Config{
		Camera:          NewSyntheticCamera(2, 2, false),
		Bus:             b,
		DevelopmentMode: false, // forces ResolveTimestamp to fail every capture
	})

	called := false
	require.NoError(t, loop.Start(500, false, func(err error) { called = true }))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, loop.Stop())

	assert.False(t, called, "preview mode must not invoke the fatal callback")
}
