package playback

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/sbinet/go-hdf5"
)

// HDF5Reader opens a session's {D}_camera.h5 files read-only and lazily
// reads frames on demand, rather than loading the entire (potentially
// large) frames dataset into memory up front.
type HDF5Reader struct {
	mu    sync.Mutex
	dir   string
	files map[model.Direction]*hdf5.File
}

// OpenHDF5Reader opens sessionDir for read-only playback access.
func OpenHDF5Reader(sessionDir string) (Reader, error) {
	return &HDF5Reader{dir: sessionDir, files: make(map[model.Direction]*hdf5.File)}, nil
}

func (r *HDF5Reader) fileFor(d model.Direction) (*hdf5.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.files[d]; ok {
		return f, nil
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s_camera.h5", d))
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("playback: open %s: %w", path, err)
	}
	r.files[d] = f
	return f, nil
}

// FrameCount returns N, the size of direction d's frames dataset's first
// dimension.
func (r *HDF5Reader) FrameCount(d model.Direction) (int, error) {
	f, err := r.fileFor(d)
	if err != nil {
		return 0, err
	}
	dset, err := f.OpenDataset("frames")
	if err != nil {
		return 0, fmt.Errorf("playback: open frames dataset: %w", err)
	}
	defer dset.Close()

	space, err := dset.Space()
	if err != nil {
		return 0, fmt.Errorf("playback: frames dataspace: %w", err)
	}
	defer space.Close()

	dims, _, err := space.SimpleExtentDims()
	if err != nil || len(dims) == 0 {
		return 0, fmt.Errorf("playback: frames dims: %w", err)
	}
	return int(dims[0]), nil
}

// CameraFrame reads one [H,W] slice at index from direction d's HDF5 file,
// and its corresponding timestamp.
func (r *HDF5Reader) CameraFrame(d model.Direction, index int) (model.CameraFrame, error) {
	f, err := r.fileFor(d)
	if err != nil {
		return model.CameraFrame{}, err
	}

	frameDset, err := f.OpenDataset("frames")
	if err != nil {
		return model.CameraFrame{}, fmt.Errorf("playback: open frames dataset: %w", err)
	}
	defer frameDset.Close()

	space, err := frameDset.Space()
	if err != nil {
		return model.CameraFrame{}, fmt.Errorf("playback: frames dataspace: %w", err)
	}
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil || len(dims) != 3 {
		return model.CameraFrame{}, fmt.Errorf("playback: unexpected frames rank")
	}
	h, w := int(dims[1]), int(dims[2])

	if err := space.SelectHyperslab([]uint{uint(index), 0, 0}, []uint{1, uint(h), uint(w)}, nil, nil); err != nil {
		return model.CameraFrame{}, fmt.Errorf("playback: select hyperslab: %w", err)
	}
	memSpace, err := hdf5.CreateSimpleDataspace([]uint{uint(h), uint(w)}, nil)
	if err != nil {
		return model.CameraFrame{}, fmt.Errorf("playback: mem dataspace: %w", err)
	}
	defer memSpace.Close()

	pixels := make([]byte, h*w)
	if err := frameDset.ReadSubset(&pixels, memSpace, space); err != nil {
		return model.CameraFrame{}, fmt.Errorf("playback: read frame %d: %w", index, err)
	}

	tsDset, err := f.OpenDataset("timestamps")
	if err != nil {
		return model.CameraFrame{}, fmt.Errorf("playback: open timestamps dataset: %w", err)
	}
	defer tsDset.Close()
	var allTs []int64
	if err := tsDset.Read(&allTs); err != nil {
		return model.CameraFrame{}, fmt.Errorf("playback: read timestamps: %w", err)
	}
	var ts int64
	if index < len(allTs) {
		ts = allTs[index]
	}

	return model.CameraFrame{
		Pixels:   pixels,
		Width:    w,
		Height:   h,
		Channels: 1,
		Meta: model.CameraFrameMeta{
			FrameIndex:         int64(index),
			CaptureTimestampUs: ts,
			TimestampSource:    model.TimestampHardware,
		},
	}, nil
}

// Close closes every opened per-direction HDF5 file.
func (r *HDF5Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, f := range r.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
