package bus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	dir := t.TempDir()
	b, err := New(Config{
		StimulusPath:     filepath.Join(dir, "stimulus.shm"),
		StimulusCapacity: 4096,
		CameraPath:       filepath.Join(dir, "camera.shm"),
		CameraCapacity:   4096,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishCamera_WrapsWhenExceedingCapacity(t *testing.T) {
	b := newTestBus(t)
	payload := make([]byte, 3000)

	d1, err := b.PublishCamera(payload, Descriptor{FrameID: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 0, d1.OffsetBytes)

	d2, err := b.PublishCamera(payload, Descriptor{FrameID: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 0, d2.OffsetBytes, "second write should wrap since 3000+3000 > 4096")
}

func TestLastStimulusTimestamp_SetGetClear(t *testing.T) {
	b := newTestBus(t)

	_, _, ok := b.LastStimulusTimestamp()
	assert.False(t, ok)

	b.SetLastStimulusTimestamp(12345, 7)
	ts, frameID, ok := b.LastStimulusTimestamp()
	assert.True(t, ok)
	assert.EqualValues(t, 12345, ts)
	assert.EqualValues(t, 7, frameID)

	b.ClearLastStimulusTimestamp()
	_, _, ok = b.LastStimulusTimestamp()
	assert.False(t, ok)
}

func TestSubscribe_DropsOnSlowSubscriber(t *testing.T) {
	b := newTestBus(t)
	ch := b.Subscribe(1)

	_, err := b.PublishCamera([]byte{1, 2, 3}, Descriptor{FrameID: 1})
	require.NoError(t, err)
	_, err = b.PublishCamera([]byte{1, 2, 3}, Descriptor{FrameID: 2})
	require.NoError(t, err)

	// Only the first descriptor should be buffered; the second is
	// dropped because the channel is full and nobody has drained it.
	d := <-ch
	assert.EqualValues(t, 1, d.FrameID)
	select {
	case <-ch:
		t.Fatal("expected no second descriptor; slow subscriber should have been dropped")
	default:
	}
}
