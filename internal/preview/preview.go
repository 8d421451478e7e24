// Package preview implements Preview Mode (C9): a thin, stateless wrapper
// around the stimulus generator used to render and publish a single frame
// on demand, with no background thread and nothing persisted between calls.
package preview

import (
	"fmt"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/bus"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/model"
	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/stimulus"
)

// Previewer renders one stimulus frame at a time and publishes it to the
// bus. It holds no progress state of its own — every call is independent.
type Previewer struct {
	generator *stimulus.Generator
	bus       *bus.Bus
}

// New constructs a Previewer around an existing generator and bus, reusing
// C4 directly rather than duplicating its rendering logic.
func New(generator *stimulus.Generator, b *bus.Bus) *Previewer {
	return &Previewer{generator: generator, bus: b}
}

// ShowFrame renders frame i of n for direction d and publishes it to the
// bus's stimulus region, returning the descriptor the bus assigned it.
func (p *Previewer) ShowFrame(d model.Direction, i, n int, showMask bool) (bus.Descriptor, error) {
	frame, err := p.generator.Generate(d, i, n, showMask)
	if err != nil {
		return bus.Descriptor{}, fmt.Errorf("preview: generate frame: %w", err)
	}

	desc := bus.Descriptor{
		FrameIndex:   int32(frame.Meta.FrameIndex),
		Direction:    string(frame.Meta.Direction),
		AngleDegrees: float32(frame.Meta.AngleDegrees),
		WidthPx:      int32(frame.Width),
		HeightPx:     int32(frame.Height),
		TotalFrames:  int32(n),
		Channels:     int32(frame.Meta.Channels),
	}

	published, err := p.bus.PublishStimulus(frame.Pixels, desc)
	if err != nil {
		return bus.Descriptor{}, fmt.Errorf("preview: publish frame: %w", err)
	}
	return published, nil
}

// BlackScreen publishes an all-zero frame of the given dimensions, used by
// display_black_screen between sessions.
func (p *Previewer) BlackScreen(widthPx, heightPx int) (bus.Descriptor, error) {
	pixels := make([]byte, widthPx*heightPx)
	desc := bus.Descriptor{WidthPx: int32(widthPx), HeightPx: int32(heightPx), Channels: 1}
	published, err := p.bus.PublishStimulus(pixels, desc)
	if err != nil {
		return bus.Descriptor{}, fmt.Errorf("preview: publish black screen: %w", err)
	}
	return published, nil
}
