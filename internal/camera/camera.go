// Package camera implements the Camera Capture Loop (C7): a Camera
// interface with a real gocv-backed implementation and a synthetic
// deterministic implementation for tests and development_mode, plus the
// capture loop that ties the camera to the trigger board, the shared
// frame bus, the session recorder and the sync tracker.
package camera

import (
	"time"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
)

// Frame is one capture result: grayscale pixels plus an optional hardware
// timestamp. HardwareTimestampUs is zero when the backend has none, in
// which case the capture loop decides (per development_mode) whether to
// substitute a software timestamp or fail.
type Frame struct {
	Pixels              []byte
	Width               int
	Height              int
	HardwareTimestampUs int64
	HasHardwareTimestamp bool
}

// Camera is the capture backend contract. Implementations: gocv.go (real
// hardware via OpenCV/V4L2) and synthetic.go (deterministic, for tests
// and development_mode).
type Camera interface {
	// Open prepares the camera to deliver frames at the given target
	// frame rate.
	Open(fps float64) error
	// Capture blocks until one frame is available.
	Capture() (Frame, error)
	// Name identifies the camera for CameraFrame.Meta.CameraName.
	Name() string
	// Close releases all resources.
	Close() error
}

// TargetInterval returns the sleep duration between captures for fps.
func TargetInterval(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

// ResolveTimestamp applies §4.7 step 2's timestamp policy: use the
// hardware timestamp when the camera provides one; otherwise, if
// developmentMode is set, substitute now (tagged "software_dev_mode"); otherwise
// report that no usable timestamp exists (the caller must terminate with
// an error in Recording mode).
func ResolveTimestamp(f Frame, developmentMode bool, now func() time.Time) (tsUs int64, source model.TimestampSource, ok bool) {
	if f.HasHardwareTimestamp {
		return f.HardwareTimestampUs, model.TimestampHardware, true
	}
	if developmentMode {
		return now().UnixMicro(), model.TimestampSoftwareDevMode, true
	}
	return 0, "", false
}
