// Package stimulus implements the Stimulus Generator (C4): a pure,
// deterministic renderer that produces one grayscale checkerboard-bar
// frame given (direction, frame_index, total_frames, show_mask). Heavy
// per-parameter-set invariants (the azimuth/altitude spherical field maps
// and the base checkerboard pattern) are cached and only recomputed when
// the dependent monitor/stimulus parameters actually change value.
package stimulus

import (
	"fmt"
	"math"
	"sync"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"gonum.org/v1/gonum/mat"
)

// Params are the monitor/stimulus parameters the generator needs. All
// angles are in degrees.
type Params struct {
	MonitorWidthPx    int
	MonitorHeightPx   int
	MonitorWidthCm    float64
	MonitorHeightCm   float64
	MonitorDistanceCm float64
	FovHalfDeg        float64
	BarWidthDeg       float64
	CheckerSizeDeg    float64
	DriftSpeedDegPerSec float64
	FlickerHz         float64
	CameraFPS         float64
}

// SweepDegrees is the total angular span a bar must cross: the field of
// view plus one bar-width of run-up on each side, so the bar fully enters
// and fully exits.
func SweepDegrees(p Params) float64 {
	return 2 * (p.FovHalfDeg + p.BarWidthDeg)
}

// TotalFrames is N = round(sweep_degrees / drift_speed * camera_fps), the
// number of frames a single direction's sweep requires at the given
// camera frame rate (§8 testable property 1).
func TotalFrames(p Params, cameraFPS float64) int {
	return int(math.Round(SweepDegrees(p) / p.DriftSpeedDegPerSec * cameraFPS))
}

// forwardAxis reports the "positive" direction each direction pair shares:
// LR/RL sweep the horizontal axis, TB/BT the vertical axis.
func forwardAxis(d model.Direction) model.Direction {
	switch d {
	case model.LR, model.RL:
		return model.LR
	default:
		return model.TB
	}
}

func isReverse(d model.Direction) bool {
	return d == model.RL || d == model.BT
}

// Angle returns the bar's angular position (degrees) for frame i of N in
// direction d, linearly interpolated from -sweepHalf to +sweepHalf over
// the forward direction's own index progression. The reverse direction of
// a pair (RL reverses LR, BT reverses TB) replays the same physical
// sweep path in time-reversed frame order (§3 Direction), matching the
// real-device requirement of reversing a sweep to average out hemodynamic
// delay rather than renegotiating a new angle convention per direction.
func Angle(d model.Direction, i, n int, p Params) float64 {
	half := p.FovHalfDeg + p.BarWidthDeg
	idx := i
	if isReverse(d) {
		idx = n - 1 - i
	}
	if n <= 1 {
		return -half
	}
	return -half + 2*half*float64(idx)/float64(n-1)
}

// Generator renders stimulus frames for a fixed Params set, caching the
// azimuth/altitude field maps and base checkerboard pattern until the
// parameters change.
type Generator struct {
	mu     sync.RWMutex
	params Params

	cacheValid bool
	azimuth    *mat.Dense
	altitude   *mat.Dense
	checker    *mat.Dense // 1 where the checker cell is "on", 0 otherwise
}

// New constructs a Generator for the given parameters. The cache is
// populated lazily on first Generate call.
func New(p Params) *Generator {
	return &Generator{params: p}
}

// SetParams replaces the parameter set. If the new value differs from the
// current one, the cached invariants are invalidated (§8 testable
// property 8); setting an identical value is a no-op on the cache.
func (g *Generator) SetParams(p Params) (invalidated bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p == g.params {
		return false
	}
	g.params = p
	g.cacheValid = false
	return true
}

func (g *Generator) fields() (azimuth, altitude, checker *mat.Dense) {
	g.mu.RLock()
	if g.cacheValid {
		azimuth, altitude, checker = g.azimuth, g.altitude, g.checker
		g.mu.RUnlock()
		return
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.cacheValid {
		g.computeFieldsLocked()
	}
	return g.azimuth, g.altitude, g.checker
}

// computeFieldsLocked builds the per-pixel azimuth/altitude spherical
// coordinate fields from monitor geometry, and the base checkerboard
// pattern over those fields. Caller must hold g.mu for writing.
func (g *Generator) computeFieldsLocked() {
	p := g.params
	w, h := p.MonitorWidthPx, p.MonitorHeightPx
	azimuth := mat.NewDense(h, w, nil)
	altitude := mat.NewDense(h, w, nil)
	checker := mat.NewDense(h, w, nil)

	cmPerPxX := p.MonitorWidthCm / float64(w)
	cmPerPxY := p.MonitorHeightCm / float64(h)

	checkerSize := p.CheckerSizeDeg
	if checkerSize <= 0 {
		checkerSize = 10
	}

	for y := 0; y < h; y++ {
		dyCm := (float64(y)-float64(h)/2)*cmPerPxY
		alt := math.Atan2(dyCm, p.MonitorDistanceCm) * 180 / math.Pi
		for x := 0; x < w; x++ {
			dxCm := (float64(x)-float64(w)/2)*cmPerPxX
			az := math.Atan2(dxCm, p.MonitorDistanceCm) * 180 / math.Pi

			azimuth.Set(y, x, az)
			altitude.Set(y, x, alt)

			cellAz := math.Floor(az / checkerSize)
			cellAlt := math.Floor(alt / checkerSize)
			on := math.Mod(cellAz+cellAlt, 2)
			if on < 0 {
				on += 2
			}
			checker.Set(y, x, on)
		}
	}

	g.azimuth = azimuth
	g.altitude = altitude
	g.checker = checker
	g.cacheValid = true
}

// flickerPeriodFrames is the frame count of one flicker half-cycle:
// camera_fps / flicker_hz, floored to at least 1.
func flickerPeriodFrames(p Params) int {
	if p.FlickerHz <= 0 || p.CameraFPS <= 0 {
		return 1
	}
	period := int(math.Round(p.CameraFPS / p.FlickerHz))
	if period < 1 {
		return 1
	}
	return period
}

// Generate renders frame i of n for direction d. Stimulus-generation
// failure here is always a programming/parameter error (bad dimensions);
// per §4.5, callers must treat any error as fatal rather than substitute
// a blank frame.
func (g *Generator) Generate(d model.Direction, i, n int, showMask bool) (model.StimulusFrame, error) {
	if !d.Valid() {
		return model.StimulusFrame{}, fmt.Errorf("stimulus: unknown direction %q", d)
	}
	if n <= 0 || i < 0 || i >= n {
		return model.StimulusFrame{}, fmt.Errorf("stimulus: frame index %d out of range [0,%d)", i, n)
	}

	azimuth, altitude, checker := g.fields()
	rows, cols := checker.Dims()

	angle := Angle(d, i, n, g.params)
	halfBar := g.params.BarWidthDeg / 2
	axis := forwardAxis(d)

	phase := (i / flickerPeriodFrames(g.params)) % 2

	pixels := make([]byte, rows*cols)
	const background byte = 128
	const onValue byte = 220
	const offValue byte = 40

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			idx := y*cols + x

			if showMask {
				var coord float64
				if axis == model.LR {
					coord = azimuth.At(y, x)
				} else {
					coord = altitude.At(y, x)
				}
				if math.Abs(coord-angle) > halfBar {
					pixels[idx] = background
					continue
				}
			}

			on := checker.At(y, x)
			if phase == 1 {
				on = 1 - on
			}
			if on != 0 {
				pixels[idx] = onValue
			} else {
				pixels[idx] = offValue
			}
		}
	}

	return model.StimulusFrame{
		Pixels: pixels,
		Height: rows,
		Width:  cols,
		Meta: model.StimulusFrameMeta{
			FrameIndex:   i,
			TotalFrames:  n,
			Direction:    d,
			AngleDegrees: angle,
			Channels:     1,
		},
	}, nil
}
