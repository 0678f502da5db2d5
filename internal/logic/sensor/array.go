// Package sensor owns the IR emitters and the analog converter and turns
// one strobed conversion pass into a Reading.
package sensor

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/einoj/muskrat/internal/debug"
	"github.com/einoj/muskrat/internal/hw/adc"
	"github.com/einoj/muskrat/internal/hw/gpio"
)

// Array is the single owner of the emitter lines and the converter. All
// conversions go through its mutex, so at most one is ever in flight.
type Array struct {
	gpio     gpio.Driver
	emitters []int
	adc      adc.Converter
	channels [DetectorCount]int
	clock    clock.Clock

	mu  sync.Mutex
	seq uint64
}

// Option configures an Array.
type Option func(*Array)

// WithClock sets the clock used to timestamp frames.
func WithClock(c clock.Clock) Option {
	return func(a *Array) { a.clock = c }
}

// NewArray takes ownership of the emitter pins and the converter.
// channels lists converter channels in conversion order: front, far-left,
// left1, left2, far-right, right1, right2. Emitters start off.
func NewArray(g gpio.Driver, emitters []int, conv adc.Converter, channels [DetectorCount]int, opts ...Option) (*Array, error) {
	a := &Array{
		gpio:     g,
		emitters: append([]int(nil), emitters...),
		adc:      conv,
		channels: channels,
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, pin := range a.emitters {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup emitter pin %d: %w", pin, err)
		}
	}
	if err := a.setEmitters(gpio.Low); err != nil {
		return nil, err
	}
	debug.Verbose("Sensor array: emitters %v, channels %v", a.emitters, a.channels)
	return a, nil
}

// Sample switches all emitters on, converts the seven detectors in order,
// switches the emitters off and returns the frame. Emitters are switched
// off on every return path.
func (a *Array) Sample() (f Frame, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.setEmitters(gpio.High); err != nil {
		return Frame{}, err
	}
	defer func() {
		if offErr := a.setEmitters(gpio.Low); offErr != nil && err == nil {
			err = offErr
		}
	}()
	return a.convert()
}

// convert runs the seven conversions. Callers hold a.mu.
func (a *Array) convert() (Frame, error) {
	var values [DetectorCount]uint16
	for i, ch := range a.channels {
		v, err := a.adc.Read(ch)
		if err != nil {
			return Frame{}, fmt.Errorf("convert channel %d: %w", ch, err)
		}
		values[i] = v
	}
	raw := rawFromValues(values)
	a.seq++
	f := Frame{
		Seq:     a.seq,
		Time:    a.clock.Now(),
		Raw:     raw,
		Reading: raw.Reading(),
	}
	debug.Reading(f.Reading.Front, f.Reading.Left, f.Reading.Right)
	if debug.IsEnabled(debug.LevelTrace) {
		debug.Trace("Raw #%d %s", f.Seq, raw)
	}
	return f, nil
}

// setEmitters drives every emitter line. Callers hold a.mu, except NewArray.
func (a *Array) setEmitters(level gpio.Level) error {
	for _, pin := range a.emitters {
		if err := a.gpio.WritePin(pin, level); err != nil {
			return fmt.Errorf("emitter pin %d: %w", pin, err)
		}
	}
	return nil
}

// Emitters switches all emitters on or off outside of Sample.
func (a *Array) Emitters(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setEmitters(gpio.Level(on))
}

// Convert runs one conversion pass without touching the emitters. It is
// used by the strobe, which holds the emitters on for a whole window.
func (a *Array) Convert() (Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.convert()
}
