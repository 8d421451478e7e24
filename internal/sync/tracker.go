// Package sync implements the timestamp synchronization tracker (C1): a
// bounded ring buffer of camera/stimulus timestamp pairs with staleness
// rejection and windowed statistics, used to prove the camera and
// stimulus generator stay in lockstep during a sweep.
package sync

import (
	"math"
	"sync"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"go.uber.org/zap"
)

// DefaultMaxHistory is the ring buffer capacity used when none is given.
const DefaultMaxHistory = 100_000

// staleThresholdUs is the |cam_ts - stim_ts| cutoff beyond which a sample
// is considered to originate from a prior stimulus phase and dropped.
const staleThresholdUs = 100_000

// Tracker is the sync quality ring buffer. Grounded in the teacher's
// frameEntry/broadcaster bounded-buffer idiom (server/dvr/dvr.go): a
// fixed-capacity slice with a write cursor, guarded by one mutex, never
// calling back into the tracker from within a locked method.
type Tracker struct {
	mu      sync.Mutex
	log     *zap.Logger
	enabled bool
	cap     int
	buf     []model.SyncSample
	next    int // write cursor
	full    bool
	rejected uint64
}

// New constructs a disabled Tracker with the given history capacity (0
// means DefaultMaxHistory).
func New(log *zap.Logger, maxHistory int) *Tracker {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Tracker{
		log: log,
		cap: maxHistory,
		buf: make([]model.SyncSample, 0, maxHistory),
	}
}

// Enable starts accepting samples via Record.
func (t *Tracker) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
}

// Disable stops accepting samples; existing history is retained.
func (t *Tracker) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

// Clear empties history and resets the rejection counter. Called at the
// start of every acquisition run.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = t.buf[:0]
	t.next = 0
	t.full = false
	t.rejected = 0
}

// hasStimulusTs reports whether stimTs is present (non-zero sentinel).
// Callers pass 0 to mean "absent".
func hasStimulusTs(stimTs int64) bool { return stimTs != 0 }

// Record appends a sample unless the tracker is disabled, stimTs is
// absent, or the sample is stale (|delta| >= 100ms) — in which case it is
// dropped and logged, not returned as an error (§4.1 acceptance policy).
func (t *Tracker) Record(camTs, stimTs int64, frameID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}
	if !hasStimulusTs(stimTs) {
		t.rejected++
		return
	}
	delta := camTs - stimTs
	if delta < 0 {
		delta = -delta
	}
	if delta >= staleThresholdUs {
		t.rejected++
		if t.log != nil {
			t.log.Debug("sync sample rejected: stale",
				zap.Int64("camera_ts_us", camTs),
				zap.Int64("stimulus_ts_us", stimTs),
				zap.Uint64("frame_id", frameID))
		}
		return
	}

	sample := model.NewSyncSample(camTs, stimTs, frameID)
	if len(t.buf) < t.cap {
		t.buf = append(t.buf, sample)
	} else {
		t.buf[t.next] = sample
		t.full = true
	}
	t.next = (t.next + 1) % t.cap
}

// RejectedCount returns the number of samples dropped since the last Clear.
func (t *Tracker) RejectedCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rejected
}

// ordered returns history in chronological append order.
func (t *Tracker) ordered() []model.SyncSample {
	if !t.full {
		out := make([]model.SyncSample, len(t.buf))
		copy(out, t.buf)
		return out
	}
	out := make([]model.SyncSample, 0, len(t.buf))
	out = append(out, t.buf[t.next:]...)
	out = append(out, t.buf[:t.next]...)
	return out
}

// Window returns samples with camera_ts >= latest_camera_ts - w*1e6.
// The anchor is the latest sample's own timestamp, not wall-clock time,
// so the window freezes (returns the same slice) when no new samples
// arrive — required so a live plot doesn't flush during baselines.
func (t *Tracker) Window(seconds float64) []model.SyncSample {
	t.mu.Lock()
	defer t.mu.Unlock()

	history := t.ordered()
	if len(history) == 0 {
		return nil
	}
	anchor := history[len(history)-1].CameraTimestampUs
	cutoff := anchor - int64(seconds*1e6)

	out := make([]model.SyncSample, 0, len(history))
	for _, s := range history {
		if s.CameraTimestampUs >= cutoff {
			out = append(out, s)
		}
	}
	return out
}

// Stats summarizes a window of samples.
type Stats struct {
	Count        int       `json:"count"`
	MatchedCount int       `json:"matched_count"`
	MeanDeltaMs  float64   `json:"mean_diff_ms"`
	StdDeltaMs   float64   `json:"std_diff_ms"`
	MinDeltaMs   float64   `json:"min_diff_ms"`
	MaxDeltaMs   float64   `json:"max_diff_ms"`
	Histogram    []int     `json:"histogram"`
}

const histogramBins = 50

// Stats computes count, matched count, and delta_ms mean/std/min/max plus
// a 50-bin histogram over the window(seconds) samples.
func (t *Tracker) Stats(seconds float64) Stats {
	window := t.Window(seconds)
	if len(window) == 0 {
		return Stats{Histogram: make([]int, histogramBins)}
	}

	deltasMs := make([]float64, len(window))
	minV, maxV := math.Inf(1), math.Inf(-1)
	var sum float64
	for i, s := range window {
		ms := float64(s.SignedDeltaUs) / 1000.0
		deltasMs[i] = ms
		sum += ms
		if ms < minV {
			minV = ms
		}
		if ms > maxV {
			maxV = ms
		}
	}
	mean := sum / float64(len(deltasMs))

	var varSum float64
	for _, v := range deltasMs {
		d := v - mean
		varSum += d * d
	}
	std := math.Sqrt(varSum / float64(len(deltasMs)))

	hist := make([]int, histogramBins)
	span := maxV - minV
	for _, v := range deltasMs {
		idx := 0
		if span > 0 {
			idx = int((v - minV) / span * float64(histogramBins))
			if idx >= histogramBins {
				idx = histogramBins - 1
			}
			if idx < 0 {
				idx = 0
			}
		}
		hist[idx]++
	}

	return Stats{
		Count:        len(window),
		MatchedCount: len(window),
		MeanDeltaMs:  mean,
		StdDeltaMs:   std,
		MinDeltaMs:   minV,
		MaxDeltaMs:   maxV,
		Histogram:    hist,
	}
}
