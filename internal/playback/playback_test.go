package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/bus"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	frames map[model.Direction]int
	closed bool
}

func (r *fakeReader) FrameCount(d model.Direction) (int, error) {
	n, ok := r.frames[d]
	if !ok {
		return 0, fmt.Errorf("no such direction %s", d)
	}
	return n, nil
}

func (r *fakeReader) CameraFrame(d model.Direction, index int) (model.CameraFrame, error) {
	return model.CameraFrame{Pixels: []byte{byte(index)}, Width: 1, Height: 1, Channels: 1}, nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
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

func writeSessionMetadata(t *testing.T, dir string, meta recorder.SessionMetadata) {
	t.Helper()
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0644))
}

func TestListSessions_SkipsDirectoriesWithoutMetadata(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "no-metadata"), 0755))

	withMeta := filepath.Join(root, "session-a")
	require.NoError(t, os.Mkdir(withMeta, 0755))
	writeSessionMetadata(t, withMeta, recorder.SessionMetadata{SessionName: "session-a"})

	out, err := ListSessions(root)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "session-a", out[0].Name)
}

func TestListSessions_MissingRootReturnsEmpty(t *testing.T) {
	out, err := ListSessions(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLoad_RejectsInvalidMetadata(t *testing.T) {
	dir := t.TempDir()
	writeSessionMetadata(t, dir, recorder.SessionMetadata{}) // zero-value acquisition params fail Validate

	_, err := Load(dir, func(path string) (Reader, error) { return &fakeReader{}, nil })
	assert.Error(t, err)
}

func TestPlayerRun_ReplaysEveryDirectionAtCadence(t *testing.T) {
	dir := t.TempDir()
	meta := recorder.SessionMetadata{
		Acquisition: model.AcquisitionParams{
			Directions: []model.Direction{model.LR},
			CameraFPS:  200,
			Cycles:     1,
		},
	}
	writeSessionMetadata(t, dir, meta)

	reader := &fakeReader{frames: map[model.Direction]int{model.LR: 3}}
	session, err := Load(dir, func(path string) (Reader, error) { return reader, nil })
	require.NoError(t, err)

	b := newTestBus(t)
	player := New(session, b, nil)

	var progress []Progress
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, player.Run(ctx, func(p Progress) { progress = append(progress, p) }))

	require.Len(t, progress, 3)
	assert.Equal(t, 2, progress[2].Index)
	require.NoError(t, player.Close())
	assert.True(t, reader.closed)
}

func TestPlayerRun_RejectsNonPositiveFps(t *testing.T) {
	dir := t.TempDir()
	meta := recorder.SessionMetadata{
		Acquisition: model.AcquisitionParams{Directions: []model.Direction{model.LR}, CameraFPS: 0, Cycles: 1},
	}
	session := &Session{Path: dir, Meta: meta, Reader: &fakeReader{}}
	b := newTestBus(t)
	player := New(session, b, nil)

	err := player.Run(context.Background(), nil)
	assert.Error(t, err)
}
