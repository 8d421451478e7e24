// Package controller implements the Camera-Triggered Stimulus Controller
// (C5): per-direction sweep sequencing with a frame counter i in [0,N),
// where generate_next_frame is invoked once per captured camera frame to
// guarantee the 1:1 camera/stimulus correspondence the whole system
// depends on for scientific validity.
package controller

import (
	"fmt"
	"sync"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/stimulus"
)

// Status is a read-only snapshot of the controller's progress.
type Status struct {
	Active    bool            `json:"active"`
	Direction model.Direction `json:"direction"`
	Index     int             `json:"index"`
	Total     int             `json:"total"`
}

// StopResult reports how a direction's sweep ended.
type StopResult struct {
	Generated int  `json:"generated"`
	Expected  int  `json:"expected"`
	Complete  bool `json:"complete"`
}

// Controller sequences one direction's sweep at a time, driving a
// stimulus.Generator synchronously from the camera capture loop.
type Controller struct {
	mu        sync.Mutex
	generator *stimulus.Generator

	active    bool
	direction model.Direction
	i         int
	n         int
}

// New constructs a Controller around the given stimulus generator.
func New(generator *stimulus.Generator) *Controller {
	return &Controller{generator: generator}
}

// StartDirection computes N = round(sweep_degrees/drift_speed *
// camera_fps), resets the frame counter, and marks the controller active
// for direction d.
func (c *Controller) StartDirection(d model.Direction, p stimulus.Params) (int, error) {
	if !d.Valid() {
		return 0, fmt.Errorf("controller: unknown direction %q", d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := stimulus.TotalFrames(p, p.CameraFPS)
	c.direction = d
	c.i = 0
	c.n = n
	c.active = true
	return n, nil
}

// GenerateNextFrame advances the frame counter and renders the next
// stimulus frame, or returns ok=false if the controller is inactive or
// the direction is already complete. A generation error is fatal: the
// caller must terminate the run rather than substitute a blank frame
// (§4.5 — preserves scientific validity).
func (c *Controller) GenerateNextFrame(showMask bool) (frame model.StimulusFrame, ok bool, err error) {
	c.mu.Lock()
	if !c.active || c.i >= c.n {
		c.mu.Unlock()
		return model.StimulusFrame{}, false, nil
	}
	d, i, n := c.direction, c.i, c.n
	c.i++
	c.mu.Unlock()

	frame, err = c.generator.Generate(d, i, n, showMask)
	if err != nil {
		return model.StimulusFrame{}, false, err
	}
	return frame, true, nil
}

// StopDirection deactivates the controller and reports how far the sweep
// got.
func (c *Controller) StopDirection() StopResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := StopResult{Generated: c.i, Expected: c.n, Complete: c.i >= c.n}
	c.active = false
	return r
}

// IsDirectionComplete reports whether every frame for the current
// direction has been generated.
func (c *Controller) IsDirectionComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && c.i >= c.n
}

// GetStatus returns a snapshot of the controller's current progress.
func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Active: c.active, Direction: c.direction, Index: c.i, Total: c.n}
}

// Reset deactivates the controller and clears its progress, without
// touching the stimulus generator's cached invariants.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.direction = ""
	c.i = 0
	c.n = 0
}
