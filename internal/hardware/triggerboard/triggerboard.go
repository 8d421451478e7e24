// Package triggerboard drives an MCP23017-style I2C GPIO expander wired as
// the rig's camera trigger/sync board: one output pin fires the camera
// trigger pulse, one input pin carries the camera's exposure/frame-ready
// signal back. internal/camera.Loop does not use this board; its hardware
// timestamps come from the Camera backend.
package triggerboard

import (
	"errors"
	"time"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/hardware/i2c"
)

const (
	DefaultAddress = 0x20

	// Pin configuration, 16-bit registers, [A7...A0 B7...B0].
	directionConf    = 0x00 // 0 = output, 1 = input
	polarityConf     = 0x02 // 0 = normal, 1 = reverse
	pullUpConf       = 0x0C // 0 = disabled, 1 = pull-up resistor enabled
	interruptEnable  = 0x04
	interruptMode    = 0x08
	interruptCompare = 0x06
	interruptStatus  = 0x0E
	interruptValue   = 0x10
	inputValue       = 0x12
	outputValue      = 0x14
)

// Config selects the I2C device/address and the bit positions of the two
// pins this board actually uses.
type Config struct {
	Address uint8
	Device  string

	TriggerPin    uint // output: pulsed high to fire the camera
	FrameReadyPin uint // input: driven by the camera on exposure start/end
	IndicatorPin  uint // output: recording-active LED, 0 if unused
}

// Board is a camera trigger/sync board built on a generic GPIO expander.
type Board struct {
	iface *i2c.I2C
	cfg   Config
}

// Open connects to the expander and configures FrameReadyPin as input (with
// change interrupt enabled) and every other pin, including TriggerPin, as
// output.
func Open(cfg Config) (*Board, error) {
	address := cfg.Address
	if address == 0 {
		address = DefaultAddress
	}

	iface, err := i2c.New(cfg.Device, address)
	if err != nil {
		return nil, err
	}

	b := &Board{iface: iface, cfg: cfg}
	if err := b.init(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Board) init() error {
	if !b.connected() {
		return errors.New("triggerboard: device not found")
	}

	inputs := uint16(1) << b.cfg.FrameReadyPin
	if err := b.setDirection(inputs); err != nil {
		return errors.New("triggerboard: set direction: " + err.Error())
	}
	if err := b.setPullUp(inputs); err != nil {
		return errors.New("triggerboard: set pull-up: " + err.Error())
	}
	if err := b.setInterrupts(inputs, 0x0000, 0x0000); err != nil {
		return errors.New("triggerboard: set interrupt: " + err.Error())
	}
	// Trigger pin idles low.
	return b.Write(0)
}

func (b *Board) connected() bool {
	var buf []byte
	_, err := b.iface.WriteBytes(buf)
	return err == nil
}

func (b *Board) setDirection(pins uint16) error {
	return b.iface.WriteRegisterU16LE(directionConf, pins)
}

func (b *Board) setPullUp(pins uint16) error {
	return b.iface.WriteRegisterU16LE(pullUpConf, pins)
}

func (b *Board) setInterrupts(enabled, mode, value uint16) error {
	if err := b.iface.WriteRegisterU16LE(interruptEnable, enabled); err != nil {
		return err
	}
	if err := b.iface.WriteRegisterU16LE(interruptMode, mode); err != nil {
		return err
	}
	return b.iface.WriteRegisterU16LE(interruptCompare, value)
}

// Read returns the raw 16-bit pin state.
func (b *Board) Read() (uint16, error) {
	return b.iface.ReadRegisterU16LE(inputValue)
}

// Write sets the raw 16-bit output state (only output-configured bits take
// effect on the physical pins).
func (b *Board) Write(value uint16) error {
	return b.iface.WriteRegisterU16LE(outputValue, value)
}

// Fire pulses TriggerPin high for d then low again, returning once the pin
// is low. The capture loop does not call it.
func (b *Board) Fire(d time.Duration) error {
	bit := uint16(1) << b.cfg.TriggerPin
	if err := b.Write(bit); err != nil {
		return err
	}
	time.Sleep(d)
	return b.Write(0)
}

func (b *Board) readInterrupt() (bool, uint16, error) {
	intr, err := b.iface.ReadRegisterU16LE(interruptStatus)
	if err != nil {
		return false, 0, err
	}
	if intr == 0 {
		return false, 0, nil
	}
	val, err := b.iface.ReadRegisterU16LE(interruptValue)
	if err != nil {
		return false, 0, err
	}
	return true, val, nil
}

// FrameReadyEvent carries the hardware-observed edge time for the
// frame-ready pin, used as a hardware capture timestamp (§4.7 step 2).
type FrameReadyEvent struct {
	ObservedAt time.Time
	PinState   bool
}

// WatchFrameReady polls the interrupt status register every pollInterval
// and emits an event on each observed change of FrameReadyPin. The returned
// channel is closed, and the watch goroutine exits, when stop is closed or
// a read error occurs.
func (b *Board) WatchFrameReady(pollInterval time.Duration, stop <-chan struct{}) <-chan FrameReadyEvent {
	events := make(chan FrameReadyEvent)
	bit := uint16(1) << b.cfg.FrameReadyPin

	go func() {
		defer close(events)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				changed, val, err := b.readInterrupt()
				if err != nil {
					return
				}
				if changed {
					events <- FrameReadyEvent{
						ObservedAt: time.Now(),
						PinState:   val&bit != 0,
					}
				}
			}
		}
	}()

	return events
}

// writeMasked reads the current output register and replaces only the bits
// set in mask, leaving every other pin's output untouched.
func (b *Board) writeMasked(value, mask uint16) error {
	cur, err := b.iface.ReadRegisterU16LE(outputValue)
	if err != nil {
		return err
	}
	return b.Write((cur &^ mask) | (value & mask))
}

// IndicatorState describes the recording-active LED's current drive mode.
type IndicatorState struct {
	Mode string        // "off", "on", or "blink"
	Rate time.Duration // only meaningful when Mode == "blink"
}

// Indicator drives the board's IndicatorPin as a recording-active LED,
// independent of the trigger/frame-ready pins.
type Indicator struct {
	board *Board
	mask  uint16
	stop  chan struct{}
	state IndicatorState
}

// Indicator returns the LED controller for this board's IndicatorPin.
func (b *Board) Indicator() *Indicator {
	return &Indicator{board: b, mask: uint16(1) << b.cfg.IndicatorPin, state: IndicatorState{Mode: "off"}}
}

// On turns the indicator on and stops any active blink.
func (l *Indicator) On() error {
	l.stopBlink()
	l.state = IndicatorState{Mode: "on"}
	return l.board.writeMasked(l.mask, l.mask)
}

// Off turns the indicator off and stops any active blink.
func (l *Indicator) Off() error {
	l.stopBlink()
	l.state = IndicatorState{Mode: "off"}
	return l.board.writeMasked(0, l.mask)
}

// Blink toggles the indicator at rate, replacing any previous blink.
func (l *Indicator) Blink(rate time.Duration) {
	l.stopBlink()
	stop := make(chan struct{})
	l.stop = stop
	l.state = IndicatorState{Mode: "blink", Rate: rate}

	go func() {
		on := true
		ticker := time.NewTicker(rate)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				val := uint16(0)
				if on {
					val = l.mask
				}
				_ = l.board.writeMasked(val, l.mask)
				on = !on
			}
		}
	}()
}

// State returns the indicator's current drive mode.
func (l *Indicator) State() IndicatorState {
	return l.state
}

func (l *Indicator) stopBlink() {
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}

// Close releases the underlying I2C handle.
func (b *Board) Close() error {
	return b.iface.Close()
}
