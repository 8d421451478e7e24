// Package state implements the State Coordinator (C2): the single
// mutually-exclusive Mode plus boolean flags that gate which operations
// are currently legal, modeled on the teacher's Hub struct guarding
// everything behind one sync.RWMutex.
package state

import (
	"sync"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"go.uber.org/zap"
)

// Snapshot is a read-only copy of the coordinator's state, safe to hand
// to callers without holding any lock.
type Snapshot struct {
	Mode                model.Mode `json:"mode"`
	CameraActive        bool       `json:"camera_active"`
	StimulusActive      bool       `json:"stimulus_active"`
	AcquisitionRunning  bool       `json:"acquisition_running"`
	SessionName         string     `json:"session_name"`
}

// Coordinator holds the system's single source of truth for which
// mutually-exclusive mode is active.
type Coordinator struct {
	mu  sync.RWMutex
	log *zap.Logger

	mode               model.Mode
	cameraActive       bool
	stimulusActive     bool
	acquisitionRunning bool
	sessionName        string
}

// New constructs a Coordinator starting in ModeIdle.
func New(log *zap.Logger) *Coordinator {
	return &Coordinator{log: log, mode: model.ModeIdle}
}

// Snapshot returns a consistent copy of all fields under one lock
// acquisition.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Mode:               c.mode,
		CameraActive:       c.cameraActive,
		StimulusActive:     c.stimulusActive,
		AcquisitionRunning: c.acquisitionRunning,
		SessionName:        c.sessionName,
	}
}

// TransitionTo attempts to move to next. A forbidden transition (e.g.
// Recording -> Preview) leaves the mode unchanged, logs a warning, and
// returns false. Transitioning to Idle resets all flags.
func (c *Coordinator) TransitionTo(next model.Mode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.mode.CanTransition(next) {
		if c.log != nil {
			c.log.Warn("forbidden mode transition",
				zap.String("from", string(c.mode)), zap.String("to", string(next)))
		}
		return false
	}

	c.mode = next
	if next == model.ModeIdle {
		c.cameraActive = false
		c.stimulusActive = false
		c.acquisitionRunning = false
		c.sessionName = ""
	}
	return true
}

// SetCameraActive updates the camera_active flag.
func (c *Coordinator) SetCameraActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cameraActive = active
}

// SetStimulusActive updates the stimulus_active flag.
func (c *Coordinator) SetStimulusActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stimulusActive = active
}

// SetAcquisitionRunning updates the acquisition_running flag.
func (c *Coordinator) SetAcquisitionRunning(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquisitionRunning = running
}

// SetSessionName records the active session's name.
func (c *Coordinator) SetSessionName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionName = name
}

// Mode returns the current mode only.
func (c *Coordinator) Mode() model.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}
