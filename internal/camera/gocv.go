//go:build cgo

package camera

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// fourccMJPEG requests MJPEG capture from the V4L2 backend, the same
// negotiation the teacher's camera driver performs before falling back to
// the device's default format.
const fourccMJPEG = 0x47504A4D

// GocvCamera captures from a V4L2 device via OpenCV, grounded in the
// teacher's OpenCVCamera (pkg/miface/camera_gocv.go): same
// OpenVideoCaptureWithAPI/MJPEG/mutex-guarded-read shape, adapted to
// produce a grayscale frame for recording instead of an RGB frame for a
// detection pipeline.
type GocvCamera struct {
	mu        sync.Mutex
	deviceID  int
	cap       *gocv.VideoCapture
	gray      gocv.Mat
	widthPx   int
	heightPx  int
	name      string
}

// NewGocvCamera constructs a camera bound to /dev/video<deviceID>. Open
// must be called before Capture.
func NewGocvCamera(deviceID int) *GocvCamera {
	return &GocvCamera{deviceID: deviceID, name: fmt.Sprintf("v4l2:%d", deviceID)}
}

// Open negotiates MJPEG at the given frame rate, mirroring the teacher's
// capture parameter sequence (FourCC before FPS before the first read).
func (g *GocvCamera) Open(fps float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cap, err := gocv.OpenVideoCaptureWithAPI(g.deviceID, gocv.VideoCaptureV4L2)
	if err != nil {
		return fmt.Errorf("camera: open device %d: %w", g.deviceID, err)
	}
	cap.Set(gocv.VideoCaptureFOURCC, cap.ToCodec("MJPG"))
	cap.Set(gocv.VideoCaptureFPS, fps)

	g.cap = cap
	g.gray = gocv.NewMat()
	g.widthPx = int(cap.Get(gocv.VideoCaptureFrameWidth))
	g.heightPx = int(cap.Get(gocv.VideoCaptureFrameHeight))
	return nil
}

// Capture reads one frame and converts it to 8-bit grayscale. gocv.
// VideoCapture has no hardware timestamp API, so HasHardwareTimestamp is
// always false here; ResolveTimestamp decides what to substitute.
func (g *GocvCamera) Capture() (Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cap == nil {
		return Frame{}, fmt.Errorf("camera: device %d not open", g.deviceID)
	}

	bgr := gocv.NewMat()
	defer bgr.Close()
	if ok := g.cap.Read(&bgr); !ok || bgr.Empty() {
		return Frame{}, fmt.Errorf("camera: device %d: empty read", g.deviceID)
	}

	gocv.CvtColor(bgr, &g.gray, gocv.ColorBGRToGray)

	pixels := make([]byte, g.gray.Rows()*g.gray.Cols())
	copy(pixels, g.gray.ToBytes())

	return Frame{
		Pixels: pixels,
		Width:  g.gray.Cols(),
		Height: g.gray.Rows(),
	}, nil
}

// Name identifies the device for CameraFrameMeta.CameraName.
func (g *GocvCamera) Name() string { return g.name }

// Close releases the capture device and scratch mat.
func (g *GocvCamera) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var err error
	if !g.gray.Empty() {
		g.gray.Close()
	}
	if g.cap != nil {
		err = g.cap.Close()
		g.cap = nil
	}
	return err
}

// EnumerateCameras probes /dev/video0..maxDevices-1 for openable V4L2
// capture devices, mirroring the teacher's device-discovery helper.
func EnumerateCameras(maxDevices int) []int {
	var found []int
	for i := 0; i < maxDevices; i++ {
		cap, err := gocv.OpenVideoCaptureWithAPI(i, gocv.VideoCaptureV4L2)
		if err != nil {
			continue
		}
		cap.Close()
		found = append(found, i)
	}
	return found
}
