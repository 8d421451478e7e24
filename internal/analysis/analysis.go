// Package analysis implements the Fourier-based retinotopy pass (§1):
// given a direction's recorded frame stack and the stimulus drift
// frequency, it extracts per-pixel phase and magnitude at that frequency
// via a real FFT (gonum.org/v1/gonum/dsp/fourier, the DOMAIN STACK
// table's intended consumer for this package). The retinotopy algorithm
// itself (Kalatsky & Stryker style periodic-stimulus Fourier mapping) is
// explicitly named a non-goal of the acquisition core — this package is
// the external collaborator the core hands recorded frames to, not a
// validated scientific pipeline.
package analysis

import (
	"fmt"
	"math"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"gonum.org/v1/gonum/dsp/fourier"
)

// PhaseMap holds one direction's per-pixel phase and magnitude at the
// stimulus frequency, row-major like the recorded frames.
type PhaseMap struct {
	Width, Height int
	Phase         []float64 // radians, (-pi, pi]
	Magnitude     []float64
}

// StimulusFrequencyHz computes the drift-bar's temporal frequency: one
// full sweep cycle per direction repeat, so frequency = cycles-per-sweep
// / sweep-duration. For a single sweep (the common case) this is simply
// 1/sweepDurationSec.
func StimulusFrequencyHz(sweepDurationSec float64) float64 {
	if sweepDurationSec <= 0 {
		return 0
	}
	return 1 / sweepDurationSec
}

// Compute extracts a PhaseMap from frames at stimulusFreqHz. frames must
// be uniformly sized, single-channel, and ordered by acquisition time;
// sampleRateHz is the camera's frame rate (the time-series sample rate
// the FFT operates against).
func Compute(frames []model.CameraFrame, sampleRateHz, stimulusFreqHz float64) (PhaseMap, error) {
	n := len(frames)
	if n < 2 {
		return PhaseMap{}, fmt.Errorf("analysis: need at least 2 frames, got %d", n)
	}
	if sampleRateHz <= 0 || stimulusFreqHz <= 0 {
		return PhaseMap{}, fmt.Errorf("analysis: sampleRateHz and stimulusFreqHz must be > 0")
	}

	w, h := frames[0].Width, frames[0].Height
	if w <= 0 || h <= 0 {
		return PhaseMap{}, fmt.Errorf("analysis: invalid frame dimensions %dx%d", w, h)
	}
	for i, f := range frames {
		if f.Width != w || f.Height != h {
			return PhaseMap{}, fmt.Errorf("analysis: frame %d size %dx%d does not match %dx%d", i, f.Width, f.Height, w, h)
		}
		if f.Channels != 1 {
			return PhaseMap{}, fmt.Errorf("analysis: frame %d has %d channels, expected 1", i, f.Channels)
		}
	}

	fft := fourier.NewFFT(n)
	binHz := sampleRateHz / float64(n)
	targetBin := int(math.Round(stimulusFreqHz / binHz))
	if targetBin < 0 || targetBin > n/2 {
		return PhaseMap{}, fmt.Errorf("analysis: stimulus frequency %.4f Hz out of range for %d samples at %.4f Hz", stimulusFreqHz, n, sampleRateHz)
	}

	npix := w * h
	phase := make([]float64, npix)
	magnitude := make([]float64, npix)
	series := make([]float64, n)
	var coeffs []complex128

	for pix := 0; pix < npix; pix++ {
		for t, f := range frames {
			series[t] = float64(f.Pixels[pix])
		}
		coeffs = fft.Coefficients(coeffs, series)
		c := coeffs[targetBin]
		phase[pix] = math.Atan2(imag(c), real(c))
		magnitude[pix] = math.Hypot(real(c), imag(c)) / float64(n)
	}

	return PhaseMap{Width: w, Height: h, Phase: phase, Magnitude: magnitude}, nil
}
