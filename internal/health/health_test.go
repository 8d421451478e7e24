package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReadiness struct {
	camera, session, busy bool
}

func (f fakeReadiness) CameraOpen() bool      { return f.camera }
func (f fakeReadiness) SessionLoaded() bool   { return f.session }
func (f fakeReadiness) AcquisitionBusy() bool { return f.busy }

func TestCollector_CollectPopulatesSnapshot(t *testing.T) {
	c := NewCollector("/", time.Minute, nil)
	snap, err := c.Collect(false, false)
	require.NoError(t, err)
	assert.False(t, snap.CollectedAt.IsZero())
	assert.Nil(t, snap.Details)
}

func TestCollector_IncludeDetailsConsultsReadinessProvider(t *testing.T) {
	c := NewCollector("/", time.Minute, fakeReadiness{camera: true, busy: true})
	snap, err := c.Collect(false, true)
	require.NoError(t, err)
	require.NotNil(t, snap.Details)
	assert.True(t, snap.Details.CameraOpen)
	assert.True(t, snap.Details.AcquisitionBusy)
	assert.False(t, snap.Details.SessionLoaded)
}

func TestCollector_UseCacheReturnsSameCollectedAt(t *testing.T) {
	c := NewCollector("/", time.Hour, nil)
	first, err := c.Collect(false, false)
	require.NoError(t, err)

	second, err := c.Collect(true, false)
	require.NoError(t, err)
	assert.Equal(t, first.CollectedAt, second.CollectedAt)
}

func TestCollector_CacheExpiryProducesFreshCollectedAt(t *testing.T) {
	c := NewCollector("/", time.Millisecond, nil)
	first, err := c.Collect(false, false)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	second, err := c.Collect(true, false)
	require.NoError(t, err)
	assert.True(t, second.CollectedAt.After(first.CollectedAt))
}
