package preview

import (
	"path/filepath"
	"testing"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/bus"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/stimulus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func testParams() stimulus.Params {
	return stimulus.Params{
		MonitorWidthPx: 8, MonitorHeightPx: 6,
		MonitorWidthCm: 60, MonitorHeightCm: 40, MonitorDistanceCm: 20,
		FovHalfDeg: 45, BarWidthDeg: 10, CheckerSizeDeg: 15,
		DriftSpeedDegPerSec: 15, FlickerHz: 2, CameraFPS: 30,
	}
}

func TestShowFrame_PublishesDescriptorMatchingFrame(t *testing.T) {
	b := newTestBus(t)
	p := New(stimulus.New(testParams()), b)

	desc, err := p.ShowFrame(model.LR, 2, 10, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), desc.FrameIndex)
	assert.Equal(t, "LR", desc.Direction)
	assert.Equal(t, int32(8), desc.WidthPx)
	assert.Equal(t, int32(6), desc.HeightPx)
}

func TestBlackScreen_PublishesZeroFrame(t *testing.T) {
	b := newTestBus(t)
	p := New(stimulus.New(testParams()), b)

	desc, err := p.BlackScreen(4, 4)
	require.NoError(t, err)
	assert.Equal(t, int32(16), desc.DataSizeBytes)
}
