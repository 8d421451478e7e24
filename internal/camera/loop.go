package camera

import (
	"fmt"
	"time"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/bus"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	synctracker "github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/sync"
	"go.uber.org/zap"
)

// FrameAppender is the Session Recorder's append surface, declared here
// (not imported from internal/recorder) so this package has no dependency
// on the recorder's HDF5/disk concerns — Loop only needs somewhere to put
// frames while Recording.
type FrameAppender interface {
	AppendCameraFrame(model.CameraFrame) error
}

// EnvironmentProvenance supplies the optional enclosure/ambient readings
// attached to each recorded frame's metadata (§3.1). A nil provider, or a
// provider returning ok=false, simply omits the corresponding field.
type EnvironmentProvenance interface {
	EnclosureTemperatureC() (value float64, ok bool)
	EnclosureHumidityPct() (value float64, ok bool)
	AmbientLightLux() (value float64, ok bool)
}

// Loop is the Camera Capture Loop (C7): it owns a Camera backend and drives
// it at a fixed cadence, publishing every frame to the shared-frame bus,
// recording sync samples, and — while active — appending frames to a
// Session Recorder.
type Loop struct {
	cam             Camera
	bus             *bus.Bus
	tracker         *synctracker.Tracker
	log             *zap.Logger
	developmentMode bool
	env             EnvironmentProvenance

	now func() time.Time

	stop      chan struct{}
	done      chan struct{}
	frameID   uint64
	recorder  FrameAppender
}

// Config bundles Loop's collaborators.
type Config struct {
	Camera          Camera
	Bus             *bus.Bus
	Tracker         *synctracker.Tracker
	Log             *zap.Logger
	DevelopmentMode bool
	Env             EnvironmentProvenance
}

// NewLoop constructs a Loop. Start begins capturing; SetRecorder attaches
// or detaches the append target for the Recording mode.
func NewLoop(cfg Config) *Loop {
	return &Loop{
		cam:             cfg.Camera,
		bus:             cfg.Bus,
		tracker:         cfg.Tracker,
		log:             cfg.Log,
		developmentMode: cfg.DevelopmentMode,
		env:             cfg.Env,
		now:             time.Now,
	}
}

// SetRecorder attaches (non-nil) or detaches (nil) the frame append
// target. Call with nil when leaving Recording mode.
func (l *Loop) SetRecorder(r FrameAppender) {
	l.recorder = r
}

// Start opens the camera at fps and begins the capture goroutine. fatal
// receives an error and stops the loop when recording is true and a frame
// cannot be timestamped or appended (§4.7/§7: Recording fails fast,
// Preview logs and continues).
func (l *Loop) Start(fps float64, recording bool, fatal func(error)) error {
	if err := l.cam.Open(fps); err != nil {
		return fmt.Errorf("camera loop: open: %w", err)
	}

	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	interval := TargetInterval(fps)

	go l.run(interval, recording, fatal)
	return nil
}

// Stop signals the capture goroutine to exit and waits for it to finish,
// then closes the camera.
func (l *Loop) Stop() error {
	if l.stop == nil {
		return nil
	}
	close(l.stop)
	<-l.done
	return l.cam.Close()
}

func (l *Loop) run(interval time.Duration, recording bool, fatal func(error)) {
	defer close(l.done)

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		started := l.now()
		if err := l.captureOne(recording); err != nil {
			if recording {
				if fatal != nil {
					fatal(err)
				}
				return
			}
			if l.log != nil {
				l.log.Warn("camera capture error, continuing", zap.Error(err))
			}
		}

		elapsed := l.now().Sub(started)
		if remaining := interval - elapsed; remaining > 0 {
			select {
			case <-time.After(remaining):
			case <-l.stop:
				return
			}
		}
	}
}

// captureOne performs one capture-resolve-publish-record cycle.
func (l *Loop) captureOne(recording bool) error {
	f, err := l.cam.Capture()
	if err != nil {
		return fmt.Errorf("camera loop: capture: %w", err)
	}

	tsUs, source, ok := ResolveTimestamp(f, l.developmentMode, l.now)
	if !ok {
		return fmt.Errorf("camera loop: no hardware timestamp and development_mode disabled")
	}

	id := l.frameID
	l.frameID++

	meta := model.CameraFrameMeta{
		FrameIndex:        int64(id),
		CaptureTimestampUs: tsUs,
		CameraName:         l.cam.Name(),
		TimestampSource:    source,
	}
	if l.env != nil {
		if v, ok := l.env.EnclosureTemperatureC(); ok {
			meta.EnclosureTemperatureC = &v
		}
		if v, ok := l.env.EnclosureHumidityPct(); ok {
			meta.EnclosureHumidityPct = &v
		}
		if v, ok := l.env.AmbientLightLux(); ok {
			meta.AmbientLightLux = &v
		}
	}

	frame := model.CameraFrame{
		Meta:     meta,
		Pixels:   f.Pixels,
		Width:    f.Width,
		Height:   f.Height,
		Channels: 1,
	}

	if l.bus != nil {
		l.bus.PublishCamera(frame.Pixels, descriptorFor(frame))
	}

	if l.tracker != nil {
		if stimTs, _, ok := l.bus.LastStimulusTimestamp(); ok {
			l.tracker.Record(tsUs, stimTs, id)
		} else {
			l.tracker.Record(tsUs, 0, id)
		}
	}

	if recording && l.recorder != nil {
		if err := l.recorder.AppendCameraFrame(frame); err != nil {
			return fmt.Errorf("camera loop: append frame %d: %w", id, err)
		}
	}

	return nil
}

func descriptorFor(f model.CameraFrame) bus.Descriptor {
	return bus.Descriptor{
		FrameID:     uint64(f.Meta.FrameIndex),
		TimestampUs: f.Meta.CaptureTimestampUs,
		FrameIndex:  int32(f.Meta.FrameIndex),
		WidthPx:     int32(f.Width),
		HeightPx:    int32(f.Height),
		Channels:    int32(f.Channels),
	}
}
