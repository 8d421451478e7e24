package acquisition

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/bus"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/controller"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/preview"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/recorder"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/stimulus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	metadataWritten bool
}

func (w *fakeWriter) WriteStimulus(dir string, direction model.Direction, events []recorder.StimulusEvent, params recorder.StimulusFileParams) (uint16, error) {
	return 1, nil
}
func (w *fakeWriter) WriteCamera(dir string, direction model.Direction, frames []model.CameraFrame, params recorder.CameraFileParams) (uint16, error) {
	return 1, nil
}
func (w *fakeWriter) WriteEventsJSON(dir string, direction model.Direction, events []recorder.StimulusEvent) error {
	return nil
}
func (w *fakeWriter) WriteMetadata(dir string, meta recorder.SessionMetadata) error {
	w.metadataWritten = true
	return nil
}
func (w *fakeWriter) WriteAnatomical(dir string, data []byte, width, height, bitDepth int) error {
	return nil
}

func testStimulusParams() stimulus.Params {
	return stimulus.Params{
		MonitorWidthPx: 4, MonitorHeightPx: 4,
		MonitorWidthCm: 60, MonitorHeightCm: 40, MonitorDistanceCm: 20,
		FovHalfDeg: 5, BarWidthDeg: 2, CheckerSizeDeg: 5,
		DriftSpeedDegPerSec: 1000, FlickerHz: 2, CameraFPS: 200,
	}
}

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	dir := t.TempDir()
	b, err := bus.New(bus.Config{
		StimulusPath:     filepath.Join(dir, "stimulus.shm"),
		StimulusCapacity: 4096,
		CameraPath:       filepath.Join(dir, "camera.shm"),
		CameraCapacity:   4096,
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestMachineRun_SequencesThroughAllPhases(t *testing.T) {
	b := newTestBus(t)
	sp := testStimulusParams()
	c := controller.New(stimulus.New(sp))
	rec := recorder.New(&fakeWriter{}, t.TempDir(), recorder.SessionMetadata{})
	pv := preview.New(stimulus.New(sp), b)

	var events []Event
	m := New(Config{
		Controller: c, Recorder: rec, Bus: b, Previewer: pv,
		BaselineW: 2, BaselineH: 2,
		OnEvent: func(e Event) { events = append(events, e) },
	})

	params := model.AcquisitionParams{
		BaselineSec: 0.01, BetweenSec: 0.01, Cycles: 1,
		Directions: []model.Direction{model.LR}, CameraFPS: sp.CameraFPS,
	}

	stopped, err := m.Run(params, sp)
	require.NoError(t, err)
	assert.False(t, stopped)

	require.NotEmpty(t, events)
	assert.Equal(t, model.PhaseInitialBaseline, events[0].Phase)
	assert.Equal(t, model.PhaseComplete, events[len(events)-1].Phase)

	var sawStimulus bool
	for _, e := range events {
		if e.Phase == model.PhaseStimulus {
			sawStimulus = true
			assert.Equal(t, model.LR, e.Direction)
		}
	}
	assert.True(t, sawStimulus)
}

func TestMachineRun_RejectsInvalidParams(t *testing.T) {
	b := newTestBus(t)
	sp := testStimulusParams()
	m := New(Config{
		Controller: controller.New(stimulus.New(sp)),
		Recorder:   recorder.New(&fakeWriter{}, t.TempDir(), recorder.SessionMetadata{}),
		Bus:        b,
	})
	_, err := m.Run(model.AcquisitionParams{}, sp)
	assert.Error(t, err)
}

func TestMachineRun_StopMidSweepReturnsPromptly(t *testing.T) {
	b := newTestBus(t)
	sp := testStimulusParams()
	sp.DriftSpeedDegPerSec = 0.001 // huge N so the sweep never completes on its own

	c := controller.New(stimulus.New(sp))
	rec := recorder.New(&fakeWriter{}, t.TempDir(), recorder.SessionMetadata{})

	m := New(Config{Controller: c, Recorder: rec, Bus: b})
	params := model.AcquisitionParams{
		BaselineSec: 0, BetweenSec: 0, Cycles: 1,
		Directions: []model.Direction{model.LR}, CameraFPS: sp.CameraFPS,
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		m.RequestStop()
	}()

	start := time.Now()
	stopped, err := m.Run(params, sp)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Less(t, time.Since(start), 2*time.Second)
}
