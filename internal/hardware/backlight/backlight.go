// Package backlight controls the stimulus monitor's backlight over the
// Linux sysfs backlight class, with an optional auto-dim mode driven by an
// ambientlight.AmbientSensor reading. Acquisition sessions normally disable
// auto-dim and pin the backlight to a fixed level so stimulus luminance
// stays constant across a sweep; auto-dim exists for idle/preview use.
package backlight

import (
	"math"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Kim-Neuroscience-Lab/KimLabISI-sub001/internal/hardware/ambientlight"
)

const (
	DEFAULT_DEVICE = "/sys/class/backlight/10-0045"
	DESIRED        = "brightness"
	MAX            = "max_brightness"
	STEPS          = 10
)

// Backlight drives one sysfs backlight device, optionally auto-dimming it
// to track a paired ambient light sensor.
type Backlight struct {
	device string
	sensor *ambientlight.AmbientSensor

	minBrightness int
	maxBrightness int
	minLux        int
	maxLux        int

	ticker  *time.Ticker
	changer *time.Ticker
	speed   int
	current int
	target  int
}

type Config struct {
	Device        string
	Sensor        *ambientlight.AmbientSensor // nil disables auto-dim
	Speed         int
	MinBrightness int
	MaxBrightness int
	MinLux        int
	MaxLux        int
}

func NewBacklight(opt *Config) (*Backlight, error) {
	dev := opt.Device
	if dev == "" {
		dev = DEFAULT_DEVICE
	}

	speed := opt.Speed
	if speed == 0 {
		speed = 5
	}

	minBrightness := opt.MinBrightness
	if minBrightness == 0 {
		minBrightness = 1
	}

	maxBrightness := opt.MaxBrightness
	if maxBrightness == 0 {
		bytes, err := os.ReadFile(path.Join(dev, MAX))
		if err != nil {
			return nil, err
		}

		val, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
		if err != nil {
			return nil, err
		}

		maxBrightness = val
	}

	minLux := opt.MinLux
	maxLux := opt.MaxLux
	if maxLux == 0 {
		maxLux = 100
	}

	v := &Backlight{
		sensor:        opt.Sensor,
		device:        dev,
		speed:         speed,
		minBrightness: minBrightness,
		maxBrightness: maxBrightness,
		minLux:        minLux,
		maxLux:        maxLux,
	}

	return v, v.Init()
}

// Init starts the auto-dim loop when a sensor is configured. With no
// sensor, brightness is only ever changed by explicit Set calls.
func (v *Backlight) Init() error {
	if v.sensor == nil {
		return nil
	}

	v.ticker = time.NewTicker(time.Duration(v.speed) * time.Second)

	go func() {
		for range v.ticker.C {
			ambient, err := v.sensor.GetAmbientLux()
			if err != nil {
				continue
			}

			var target int
			if ambient <= float64(v.minLux) {
				target = v.minBrightness
			} else if ambient >= float64(v.maxLux) {
				target = v.maxBrightness
			} else {
				percent := (ambient - float64(v.minLux)) / float64(v.maxLux-v.minLux)
				target = v.minBrightness + int(math.Round(float64(v.maxBrightness-v.minBrightness)*percent))
			}

			v.rampTo(target)
		}
	}()

	return nil
}

// Stop halts the auto-dim loop and any in-progress ramp.
func (v *Backlight) Stop() {
	if v.ticker != nil {
		v.ticker.Stop()
	}
	if v.changer != nil {
		v.changer.Stop()
	}
}

// Set immediately writes brightness (clamped to [minBrightness,
// maxBrightness]), bypassing the ramp. Used to pin a fixed level during an
// acquisition session.
func (v *Backlight) Set(brightness int) error {
	if v.changer != nil {
		v.changer.Stop()
	}
	return v.set(brightness)
}

func (v *Backlight) rampTo(target int) {
	if v.target == target {
		return
	}

	v.target = target
	step := float64(target-v.current) / STEPS

	if v.changer != nil {
		v.changer.Stop()
	}

	if step == 0 || v.current == v.target {
		return
	}

	v.changer = time.NewTicker(time.Duration(v.speed) * time.Second / STEPS)

	go func() {
		for range v.changer.C {
			next := int(math.Round(float64(v.current) + step))
			v.set(next)

			if (step > 0 && next >= v.target) || (step < 0 && next <= v.target) {
				v.changer.Stop()
				return
			}
		}
	}()
}

func (v *Backlight) set(brightness int) error {
	if brightness < v.minBrightness {
		brightness = v.minBrightness
	} else if brightness > v.maxBrightness {
		brightness = v.maxBrightness
	}

	err := os.WriteFile(path.Join(v.device, DESIRED), []byte(strconv.Itoa(brightness)), 0600)
	v.current = brightness
	return err
}
