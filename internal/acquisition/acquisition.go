// Package acquisition implements the Acquisition Phase Machine (C6): the
// deterministic baseline/stimulus/between-trials sequence that drives one
// full acquisition run across every configured direction and cycle, on its
// own thread, polling a cancellation flag at ≤100ms granularity.
package acquisition

import (
	"fmt"
	"time"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/bus"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/camera"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/controller"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/preview"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/recorder"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/stimulus"
	"go.uber.org/zap"
)

// pollInterval is the cancellation-flag and completion-poll granularity
// (§4.6, §5): never sleep longer than this in one slice.
const pollInterval = 100 * time.Millisecond

// Event is one phase-machine progress notification, published over IPC.
type Event struct {
	Phase     model.Phase     `json:"phase"`
	Direction model.Direction `json:"direction,omitempty"`
	Cycle     int             `json:"cycle,omitempty"`
}

// Config bundles the Machine's collaborators. CameraLoop may be nil (e.g.
// in tests that exercise sequencing without a real capture thread).
type Config struct {
	Controller *controller.Controller
	Recorder   *recorder.Recorder
	CameraLoop *camera.Loop
	Bus        *bus.Bus
	Previewer  *preview.Previewer
	Log        *zap.Logger
	BaselineW  int
	BaselineH  int
	OnEvent    func(Event)
}

// Machine runs one acquisition's full phase sequence.
type Machine struct {
	cfg  Config
	stop chan struct{}
}

// New constructs a Machine. Run executes the sequence synchronously on the
// calling goroutine; callers wanting a background thread should `go
// m.Run(...)`.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, stop: make(chan struct{})}
}

// RequestStop raises the cancellation flag checked at every sleep slice.
// Safe to call more than once.
func (m *Machine) RequestStop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

func (m *Machine) emit(e Event) {
	if m.cfg.OnEvent != nil {
		m.cfg.OnEvent(e)
	}
}

// enterPhase clears the bus's last-stimulus-timestamp (mandatory on every
// transition out of Stimulus, §4.6) and emits a progress event.
func (m *Machine) enterPhase(phase model.Phase, direction model.Direction, cycle int) {
	if phase != model.PhaseStimulus && m.cfg.Bus != nil {
		m.cfg.Bus.ClearLastStimulusTimestamp()
	}
	m.emit(Event{Phase: phase, Direction: direction, Cycle: cycle})
}

// publishBaseline shows a black frame via the previewer, the phase
// machine's visible marker for non-stimulus phases.
func (m *Machine) publishBaseline() {
	if m.cfg.Previewer == nil {
		return
	}
	if _, err := m.cfg.Previewer.BlackScreen(m.cfg.BaselineW, m.cfg.BaselineH); err != nil && m.cfg.Log != nil {
		m.cfg.Log.Warn("acquisition: publish baseline frame failed", zap.Error(err))
	}
}

// sleepInterruptible sleeps up to d, checked in ≤100ms slices against the
// stop flag, returning true if it was interrupted before d elapsed.
func (m *Machine) sleepInterruptible(d time.Duration) (stopped bool) {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		slice := pollInterval
		if remaining < slice {
			slice = remaining
		}
		select {
		case <-m.stop:
			return true
		case <-time.After(slice):
		}
	}
}

func (m *Machine) attachRecorder() {
	if m.cfg.CameraLoop != nil {
		m.cfg.CameraLoop.SetRecorder(m.cfg.Recorder)
	}
}

func (m *Machine) detachRecorder() {
	if m.cfg.CameraLoop != nil {
		m.cfg.CameraLoop.SetRecorder(nil)
	}
}

// Run executes the full sequence for params, using stimParams to compute N
// per direction. It returns stopped=true if interrupted by RequestStop,
// and an error if any collaborator failed — per §4.6, any such failure
// during Recording is fatal and the run must not continue producing
// partial data.
func (m *Machine) Run(params model.AcquisitionParams, stimParams stimulus.Params) (stopped bool, err error) {
	if err := params.Validate(); err != nil {
		return false, fmt.Errorf("acquisition: invalid params: %w", err)
	}

	m.enterPhase(model.PhaseInitialBaseline, "", 0)
	m.publishBaseline()
	if m.sleepInterruptible(secs(params.BaselineSec)) {
		return true, nil
	}

	for di, d := range params.Directions {
		n, err := m.cfg.Controller.StartDirection(d, stimParams)
		if err != nil {
			return false, fmt.Errorf("acquisition: start direction %s: %w", d, err)
		}
		m.cfg.Recorder.StartDirection(d)
		m.attachRecorder()

		expected := time.Duration(float64(n) / params.CameraFPS * float64(time.Second))

		for cycle := 0; cycle < params.Cycles; cycle++ {
			m.enterPhase(model.PhaseStimulus, d, cycle)

			stopped, err := m.waitForCycleCompletion(expected)
			if err != nil {
				return false, err
			}
			if stopped {
				m.finishDirectionEarly()
				return true, nil
			}

			if cycle != params.Cycles-1 {
				m.enterPhase(model.PhaseBetweenTrials, d, cycle)
				m.publishBaseline()
				if m.sleepInterruptible(secs(params.BetweenSec)) {
					m.finishDirectionEarly()
					return true, nil
				}
			}
		}

		m.cfg.Controller.StopDirection()
		m.cfg.Recorder.FinishDirection()
		m.detachRecorder()

		if di != len(params.Directions)-1 {
			m.enterPhase(model.PhaseBetweenTrials, "", 0)
			m.publishBaseline()
			if m.sleepInterruptible(secs(params.BaselineSec)) {
				return true, nil
			}
		}
	}

	m.enterPhase(model.PhaseFinalBaseline, "", 0)
	m.publishBaseline()
	if m.sleepInterruptible(secs(params.BaselineSec)) {
		return true, nil
	}

	m.enterPhase(model.PhaseComplete, "", 0)
	return false, nil
}

// waitForCycleCompletion polls is_direction_complete at pollInterval until
// complete, the stop flag fires, or 2x expected elapses (logged, not
// fatal, per §4.6).
func (m *Machine) waitForCycleCompletion(expected time.Duration) (stopped bool, err error) {
	timeout := time.After(2 * expected)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if m.cfg.Controller.IsDirectionComplete() {
			return false, nil
		}
		select {
		case <-m.stop:
			return true, nil
		case <-timeout:
			if m.cfg.Log != nil {
				m.cfg.Log.Warn("acquisition: sweep completion timeout, proceeding")
			}
			return false, nil
		case <-ticker.C:
		}
	}
}

// finishDirectionEarly closes out a direction's recorder/controller state
// after a mid-sweep stop, then publishes the baseline marker frame (§4.6:
// "mid-sweep stop closes recorders, publishes a baseline frame, returns to
// idle").
func (m *Machine) finishDirectionEarly() {
	m.cfg.Controller.StopDirection()
	m.cfg.Recorder.FinishDirection()
	m.detachRecorder()
	m.publishBaseline()
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
