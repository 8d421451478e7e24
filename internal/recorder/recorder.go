// Package recorder implements the Session Recorder (C8): per-direction
// in-memory buffers for stimulus events and camera frames, flushed to disk
// as HDF5 plus JSON sidecars on stop_recording/save_session. All writes go
// through write-to-temp-then-atomic-rename, the same durability pattern the
// teacher's log rotation uses for its backup files, generalized here from
// rotate-and-rename to write-and-rename.
package recorder

import (
	"fmt"
	"sync"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
)

// StimulusEvent is one recorded stimulus frame event, the unit written to
// {D}_events.json and {D}_stimulus.h5.
type StimulusEvent struct {
	TimestampUs int64           `json:"timestamp"`
	FrameID     uint64          `json:"frame_id"`
	FrameIndex  int             `json:"frame_index"`
	AngleDegrees float64        `json:"angle"`
	Direction   model.Direction `json:"-"`
}

// directionBuffer accumulates one direction's stimulus events and camera
// frames while recording is active.
type directionBuffer struct {
	direction model.Direction
	events    []StimulusEvent
	frames    []model.CameraFrame
}

// Writer is the on-disk persistence surface a Recorder delegates to. The
// real implementation (HDF5Writer) is injected at construction so tests can
// substitute an in-memory fake instead of requiring libhdf5.
type Writer interface {
	WriteStimulus(dir string, direction model.Direction, events []StimulusEvent, params StimulusFileParams) (checksum uint16, err error)
	WriteCamera(dir string, direction model.Direction, frames []model.CameraFrame, params CameraFileParams) (checksum uint16, err error)
	WriteEventsJSON(dir string, direction model.Direction, events []StimulusEvent) error
	WriteMetadata(dir string, meta SessionMetadata) error
	WriteAnatomical(dir string, data []byte, width, height int, bitDepth int) error
}

// StimulusFileParams carries the attributes {D}_stimulus.h5 must record
// alongside its datasets.
type StimulusFileParams struct {
	MonitorWidthPx, MonitorHeightPx   int
	MonitorWidthCm, MonitorHeightCm   float64
	MonitorDistanceCm                 float64
	TotalDisplayed                    int
}

// CameraFileParams carries the attributes {D}_camera.h5 must record
// alongside its datasets.
type CameraFileParams struct {
	WidthPx, HeightPx int
	FPS               float64
}

// Recorder owns one session's in-flight recording state. Buffers are
// appended to only from the capture/controller goroutines while recording;
// Finalize is the sole place they are read back out.
type Recorder struct {
	mu       sync.Mutex
	writer   Writer
	sessionDir string
	meta     SessionMetadata

	current *directionBuffer
	done    map[model.Direction]*directionBuffer
}

// New constructs a Recorder for sessionDir, writing through w.
func New(w Writer, sessionDir string, meta SessionMetadata) *Recorder {
	return &Recorder{
		writer:     w,
		sessionDir: sessionDir,
		meta:       meta,
		done:       make(map[model.Direction]*directionBuffer),
	}
}

// StartDirection opens a fresh buffer for d, discarding any prior
// in-progress (not yet finalized) buffer for the same direction.
func (r *Recorder) StartDirection(d model.Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = &directionBuffer{direction: d}
}

// AppendStimulusEvent records one stimulus frame event against the active
// direction buffer.
func (r *Recorder) AppendStimulusEvent(e StimulusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return fmt.Errorf("recorder: append stimulus event with no active direction")
	}
	e.Direction = r.current.direction
	r.current.events = append(r.current.events, e)
	return nil
}

// AppendCameraFrame records one captured camera frame against the active
// direction buffer. Implements camera.FrameAppender.
func (r *Recorder) AppendCameraFrame(f model.CameraFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return fmt.Errorf("recorder: append camera frame with no active direction")
	}
	r.current.frames = append(r.current.frames, f)
	return nil
}

// FinishDirection moves the active buffer into the completed set, keyed by
// direction, ready for Finalize to flush.
func (r *Recorder) FinishDirection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	r.done[r.current.direction] = r.current
	r.current = nil
}

// DirectionCounts reports (events, frames) buffered so far for d, for
// progress reporting and tests.
func (r *Recorder) DirectionCounts(d model.Direction) (events, frames int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.direction == d {
		return len(r.current.events), len(r.current.frames)
	}
	if b, ok := r.done[d]; ok {
		return len(b.events), len(b.frames)
	}
	return 0, 0
}

// Finalize flushes every completed direction buffer to disk and writes
// metadata.json. On any I/O failure the operation fails as a whole and
// prior state is left consistent (the Writer's temp files are removed by
// the writer itself before returning an error).
func (r *Recorder) Finalize(stimParams func(model.Direction) StimulusFileParams, camParams func(model.Direction) CameraFileParams) error {
	r.mu.Lock()
	if r.current != nil {
		r.done[r.current.direction] = r.current
		r.current = nil
	}
	done := r.done
	r.mu.Unlock()

	for d, buf := range done {
		stimSum, err := r.writer.WriteStimulus(r.sessionDir, d, buf.events, stimParams(d))
		if err != nil {
			return fmt.Errorf("recorder: write stimulus %s: %w", d, err)
		}
		camSum, err := r.writer.WriteCamera(r.sessionDir, d, buf.frames, camParams(d))
		if err != nil {
			return fmt.Errorf("recorder: write camera %s: %w", d, err)
		}
		if err := r.writer.WriteEventsJSON(r.sessionDir, d, buf.events); err != nil {
			return fmt.Errorf("recorder: write events json %s: %w", d, err)
		}
		if r.meta.Checksums == nil {
			r.meta.Checksums = make(map[string]uint16)
		}
		r.meta.Checksums[fmt.Sprintf("%s_stimulus.h5", d)] = stimSum
		r.meta.Checksums[fmt.Sprintf("%s_camera.h5", d)] = camSum
	}

	if err := r.writer.WriteMetadata(r.sessionDir, r.meta); err != nil {
		return fmt.Errorf("recorder: write metadata: %w", err)
	}
	return nil
}
