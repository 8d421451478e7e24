package recorder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/sbinet/go-hdf5"
	"github.com/sigurn/crc16"
)

// HDF5Writer is the real Writer implementation, backing {D}_stimulus.h5 and
// {D}_camera.h5 with gzip-compressed datasets per §6. Every file is staged
// at {name}.h5.tmp and only renamed into place once fully written and
// closed, so a reader never observes a partial file.
type HDF5Writer struct {
	gzipLevel int
}

// NewHDF5Writer constructs a writer using the given gzip compression level
// for camera frame datasets (a level <= 0 selects level 4).
func NewHDF5Writer(gzipLevel int) *HDF5Writer {
	if gzipLevel <= 0 {
		gzipLevel = 4
	}
	return &HDF5Writer{gzipLevel: gzipLevel}
}

var checksumTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// checksumFile computes a CRC16 over a file's bytes, a lightweight
// integrity marker that Recorder.Finalize records for each written HDF5
// file in metadata.json's checksums map (not a substitute for HDF5's own
// internal consistency checks).
func checksumFile(path string) (uint16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return crc16.Checksum(data, checksumTable), nil
}

// WriteStimulus writes timestamps/frame_indices/angles datasets plus
// monitor-geometry and direction attributes to {D}_stimulus.h5.
func (w *HDF5Writer) WriteStimulus(dir string, direction model.Direction, events []StimulusEvent, params StimulusFileParams) (uint16, error) {
	final := filepath.Join(dir, fmt.Sprintf("%s_stimulus.h5", direction))
	tmp := final + ".tmp"

	if err := writeStimulusHDF5(tmp, events, params, direction); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("recorder: rename %s: %w", final, err)
	}
	return checksumFile(final)
}

func writeStimulusHDF5(path string, events []StimulusEvent, params StimulusFileParams, direction model.Direction) error {
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("recorder: create %s: %w", path, err)
	}
	defer f.Close()

	n := len(events)
	timestamps := make([]int64, n)
	indices := make([]int32, n)
	angles := make([]float32, n)
	for i, e := range events {
		timestamps[i] = e.TimestampUs
		indices[i] = int32(e.FrameIndex)
		angles[i] = float32(e.AngleDegrees)
	}

	if err := writeDataset(f, "timestamps", hdf5.T_NATIVE_INT64, []int(nil), timestamps); err != nil {
		return err
	}
	if err := writeDataset(f, "frame_indices", hdf5.T_NATIVE_INT32, []int(nil), indices); err != nil {
		return err
	}
	if err := writeDataset(f, "angles", hdf5.T_NATIVE_FLOAT, []int(nil), angles); err != nil {
		return err
	}

	attrs := map[string]float64{
		"monitor_width_px":    float64(params.MonitorWidthPx),
		"monitor_height_px":   float64(params.MonitorHeightPx),
		"monitor_width_cm":    params.MonitorWidthCm,
		"monitor_height_cm":   params.MonitorHeightCm,
		"monitor_distance_cm": params.MonitorDistanceCm,
		"total_displayed":     float64(params.TotalDisplayed),
	}
	if err := writeFloatAttrs(f, attrs); err != nil {
		return err
	}
	return writeStringAttr(f, "direction", string(direction))
}

// WriteCamera writes frames[N,H,W] (gzip) and timestamps[N] datasets plus
// monitor/camera geometry and direction attributes to {D}_camera.h5.
func (w *HDF5Writer) WriteCamera(dir string, direction model.Direction, frames []model.CameraFrame, params CameraFileParams) (uint16, error) {
	final := filepath.Join(dir, fmt.Sprintf("%s_camera.h5", direction))
	tmp := final + ".tmp"

	if err := w.writeCameraHDF5(tmp, frames, params, direction); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("recorder: rename %s: %w", final, err)
	}
	return checksumFile(final)
}

func (w *HDF5Writer) writeCameraHDF5(path string, frames []model.CameraFrame, params CameraFileParams, direction model.Direction) error {
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("recorder: create %s: %w", path, err)
	}
	defer f.Close()

	n := len(frames)
	timestamps := make([]int64, n)
	packed := make([]byte, 0, n*params.WidthPx*params.HeightPx)
	for i, fr := range frames {
		timestamps[i] = fr.Meta.CaptureTimestampUs
		packed = append(packed, fr.Pixels...)
	}

	dims := []int{n, params.HeightPx, params.WidthPx}
	if err := writeCompressedDataset(f, "frames", hdf5.T_NATIVE_UCHAR, dims, packed, w.gzipLevel); err != nil {
		return err
	}
	if err := writeDataset(f, "timestamps", hdf5.T_NATIVE_INT64, []int(nil), timestamps); err != nil {
		return err
	}

	attrs := map[string]float64{
		"width_px":  float64(params.WidthPx),
		"height_px": float64(params.HeightPx),
		"fps":       params.FPS,
	}
	if err := writeFloatAttrs(f, attrs); err != nil {
		return err
	}
	return writeStringAttr(f, "direction", string(direction))
}

// writeDataset creates a 1D (or, with dims set, N-D) dataset under f and
// writes data into it in one call.
func writeDataset(f *hdf5.File, name string, dtype *hdf5.Datatype, dims []int, data interface{}) error {
	var space *hdf5.Dataspace
	var err error
	if len(dims) == 0 {
		n := sliceLen(data)
		space, err = hdf5.CreateSimpleDataspace([]uint{uint(n)}, nil)
	} else {
		ud := make([]uint, len(dims))
		for i, d := range dims {
			ud[i] = uint(d)
		}
		space, err = hdf5.CreateSimpleDataspace(ud, nil)
	}
	if err != nil {
		return fmt.Errorf("recorder: dataspace %s: %w", name, err)
	}
	defer space.Close()

	dset, err := f.CreateDataset(name, dtype, space)
	if err != nil {
		return fmt.Errorf("recorder: create dataset %s: %w", name, err)
	}
	defer dset.Close()

	if err := dset.Write(data); err != nil {
		return fmt.Errorf("recorder: write dataset %s: %w", name, err)
	}
	return nil
}

// writeCompressedDataset is writeDataset plus a gzip filter on the
// dataset's creation property list, used for the bulky frames[N,H,W]
// dataset.
func writeCompressedDataset(f *hdf5.File, name string, dtype *hdf5.Datatype, dims []int, data interface{}, gzipLevel int) error {
	ud := make([]uint, len(dims))
	for i, d := range dims {
		ud[i] = uint(d)
	}
	space, err := hdf5.CreateSimpleDataspace(ud, nil)
	if err != nil {
		return fmt.Errorf("recorder: dataspace %s: %w", name, err)
	}
	defer space.Close()

	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return fmt.Errorf("recorder: create plist for %s: %w", name, err)
	}
	defer plist.Close()
	if err := plist.SetChunk(ud); err != nil {
		return fmt.Errorf("recorder: set chunk for %s: %w", name, err)
	}
	if err := plist.SetDeflate(uint(gzipLevel)); err != nil {
		return fmt.Errorf("recorder: set deflate for %s: %w", name, err)
	}

	dset, err := f.CreateDatasetWith(name, dtype, space, plist)
	if err != nil {
		return fmt.Errorf("recorder: create dataset %s: %w", name, err)
	}
	defer dset.Close()

	if err := dset.Write(data); err != nil {
		return fmt.Errorf("recorder: write dataset %s: %w", name, err)
	}
	return nil
}

func writeFloatAttrs(f *hdf5.File, attrs map[string]float64) error {
	for name, v := range attrs {
		space, err := hdf5.CreateSimpleDataspace([]uint{1}, nil)
		if err != nil {
			return fmt.Errorf("recorder: attr dataspace %s: %w", name, err)
		}
		attr, err := f.CreateAttribute(name, hdf5.T_NATIVE_DOUBLE, space)
		space.Close()
		if err != nil {
			return fmt.Errorf("recorder: create attr %s: %w", name, err)
		}
		vv := v
		err = attr.Write(&vv, hdf5.T_NATIVE_DOUBLE)
		attr.Close()
		if err != nil {
			return fmt.Errorf("recorder: write attr %s: %w", name, err)
		}
	}
	return nil
}

func writeStringAttr(f *hdf5.File, name, value string) error {
	space, err := hdf5.CreateSimpleDataspace([]uint{1}, nil)
	if err != nil {
		return fmt.Errorf("recorder: attr dataspace %s: %w", name, err)
	}
	defer space.Close()

	dtype, err := hdf5.NewDatatypeFromValue("")
	if err != nil {
		return fmt.Errorf("recorder: string datatype: %w", err)
	}

	attr, err := f.CreateAttribute(name, dtype, space)
	if err != nil {
		return fmt.Errorf("recorder: create attr %s: %w", name, err)
	}
	defer attr.Close()

	if err := attr.Write(&value, dtype); err != nil {
		return fmt.Errorf("recorder: write attr %s: %w", name, err)
	}
	return nil
}

func sliceLen(data interface{}) int {
	switch v := data.(type) {
	case []int64:
		return len(v)
	case []int32:
		return len(v)
	case []float32:
		return len(v)
	case []byte:
		return len(v)
	default:
		return 0
	}
}
