package camera

import (
	"fmt"
	"time"
)

// SyntheticCamera is a deterministic, hardware-free Camera used in
// development_mode and in tests: each Capture produces a frame whose pixel
// values encode the frame counter, so callers can assert on frame identity
// without a real device attached. Grounded in the same role the original
// controller's stub camera backend plays for development_mode runs absent
// hardware.
type SyntheticCamera struct {
	widthPx  int
	heightPx int
	fps      float64
	counter  int64
	opened   bool

	// simulateHardwareTimestamp, when true, reports a hardware timestamp
	// derived from a monotonic counter instead of leaving it absent —
	// exercises the TimestampHardware path in tests without real hardware.
	simulateHardwareTimestamp bool
	clockUs                   int64
}

// NewSyntheticCamera constructs a synthetic camera producing widthPx x
// heightPx grayscale frames.
func NewSyntheticCamera(widthPx, heightPx int, simulateHardwareTimestamp bool) *SyntheticCamera {
	return &SyntheticCamera{
		widthPx:                   widthPx,
		heightPx:                  heightPx,
		simulateHardwareTimestamp: simulateHardwareTimestamp,
	}
}

func (s *SyntheticCamera) Open(fps float64) error {
	if fps <= 0 {
		return fmt.Errorf("camera: synthetic open: fps must be > 0, got %v", fps)
	}
	s.fps = fps
	s.opened = true
	return nil
}

// Capture advances the frame counter and fills the frame with its low byte,
// so a reader can confirm frame N actually arrived as frame N.
func (s *SyntheticCamera) Capture() (Frame, error) {
	if !s.opened {
		return Frame{}, fmt.Errorf("camera: synthetic capture before open")
	}

	pixels := make([]byte, s.widthPx*s.heightPx)
	fill := byte(s.counter % 256)
	for i := range pixels {
		pixels[i] = fill
	}

	f := Frame{
		Pixels: pixels,
		Width:  s.widthPx,
		Height: s.heightPx,
	}
	if s.simulateHardwareTimestamp {
		s.clockUs += int64(time.Second / time.Duration(s.fps) / time.Microsecond)
		f.HardwareTimestampUs = s.clockUs
		f.HasHardwareTimestamp = true
	}

	s.counter++
	return f, nil
}

func (s *SyntheticCamera) Name() string { return "synthetic" }

func (s *SyntheticCamera) Close() error {
	s.opened = false
	return nil
}
