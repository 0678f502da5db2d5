// Package adc wraps the analog converter that digitizes the photodiode signals.
package adc

import (
	"fmt"
	"sync"

	"github.com/einoj/muskrat/internal/debug"
)

// Converter performs one blocking single-ended conversion per call.
// Implementations are not safe for concurrent conversions; the owner
// must issue them one at a time.
type Converter interface {
	Read(channel int) (uint16, error)
	Close() error
}

// Config holds the converter settings.
type Config struct {
	SPISpeedHz int
	ChipSelect int
	Channels   int // number of valid channels
}

// NewConverter creates a converter based on the chosen mode.
// The real converter needs the GPIO memory map to be open already.
func NewConverter(mock bool, cfg Config) (Converter, error) {
	if mock {
		debug.Info("Using MOCK analog converter (development mode)")
		return NewMockConverter(cfg.Channels), nil
	}
	return NewMCP3008(cfg)
}

// MockConverter returns values set by the caller. Used for development
// on PC or testing.
type MockConverter struct {
	mu     sync.Mutex
	values []uint16
	reads  []int
}

// NewMockConverter creates a mock with the given number of channels, all zero.
func NewMockConverter(channels int) *MockConverter {
	if channels <= 0 {
		channels = 8
	}
	return &MockConverter{values: make([]uint16, channels)}
}

// Set changes the value returned for a channel.
func (m *MockConverter) Set(channel int, value uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[channel] = value
}

// Reads returns the channels converted so far, in order.
func (m *MockConverter) Reads() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.reads...)
}

func (m *MockConverter) Read(channel int) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channel < 0 || channel >= len(m.values) {
		return 0, fmt.Errorf("adc channel %d out of range 0-%d", channel, len(m.values)-1)
	}
	m.reads = append(m.reads, channel)
	v := m.values[channel]
	debug.ADC(channel, v)
	return v, nil
}

func (m *MockConverter) Close() error {
	debug.Trace("ADC Close (mock)")
	return nil
}
