package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parameters.json")
	s, err := New(path, DefaultSchemas())
	require.NoError(t, err)
	return s
}

func TestStore_GetGroupReturnsDefaults(t *testing.T) {
	s := newTestStore(t)
	monitor, err := s.GetGroup(GroupMonitor)
	require.NoError(t, err)
	assert.Equal(t, 1920, monitor["width_px"])
}

func TestStore_UpdateGroupRejectsInvalidValue(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateGroup(GroupMonitor, map[string]any{"width_px": -1})
	assert.Error(t, err)

	monitor, err := s.GetGroup(GroupMonitor)
	require.NoError(t, err)
	assert.Equal(t, 1920, monitor["width_px"], "rejected update must not mutate current state")
}

func TestStore_UpdateGroupAppliesValidChangeAndReportsChangedKeys(t *testing.T) {
	s := newTestStore(t)
	changed, err := s.UpdateGroup(GroupMonitor, map[string]any{"width_px": 2560.0})
	require.NoError(t, err)
	assert.Equal(t, []string{"width_px"}, changed)

	monitor, err := s.GetGroup(GroupMonitor)
	require.NoError(t, err)
	assert.EqualValues(t, 2560, monitor["width_px"])
}

func TestStore_UpdateGroupNotifiesSubscribers(t *testing.T) {
	s := newTestStore(t)
	var received []string
	require.NoError(t, s.Subscribe(GroupStimulus, func(changedKeys []string) {
		received = changedKeys
	}))

	_, err := s.UpdateGroup(GroupStimulus, map[string]any{"flicker_hz": 10.0})
	require.NoError(t, err)
	assert.Equal(t, []string{"flicker_hz"}, received)
}

func TestStore_ResetToDefaultsRestoresValue(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateGroup(GroupCamera, map[string]any{"fps": 60.0})
	require.NoError(t, err)

	require.NoError(t, s.ResetToDefaults(GroupCamera))
	camera, err := s.GetGroup(GroupCamera)
	require.NoError(t, err)
	assert.EqualValues(t, 30.0, camera["fps"])
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parameters.json")
	s1, err := New(path, DefaultSchemas())
	require.NoError(t, err)
	_, err = s1.UpdateGroup(GroupSession, map[string]any{"animal_id": "mouse-42"})
	require.NoError(t, err)

	s2, err := New(path, DefaultSchemas())
	require.NoError(t, err)
	session, err := s2.GetGroup(GroupSession)
	require.NoError(t, err)
	assert.Equal(t, "mouse-42", session["animal_id"])
}

func TestStore_StimulusGeneratorParamsDecodesAcrossGroups(t *testing.T) {
	s := newTestStore(t)
	p, err := s.StimulusGeneratorParams()
	require.NoError(t, err)
	assert.Equal(t, 1920, p.MonitorWidthPx)
	assert.Equal(t, 30.0, p.CameraFPS)
}

func TestStore_ParameterInfoReflectsValidatorTags(t *testing.T) {
	s := newTestStore(t)
	info, err := s.ParameterInfo(GroupSession)
	require.NoError(t, err)
	require.NotEmpty(t, info)

	var found bool
	for _, pi := range info {
		if pi.Name == "animal_id" {
			found = true
			assert.True(t, pi.Required)
		}
	}
	assert.True(t, found)
}
