// Package pwm drives the motor timers. A Timer is one PWM peripheral with
// two channels sharing a single carrier frequency and duty resolution.
package pwm

import (
	"fmt"
	"sync"

	"github.com/einoj/muskrat/internal/debug"
)

// Channel indexes a channel of a Timer.
type Channel int

// Timer is one PWM peripheral. MaxDuty is fixed once the timer is
// initialized and differs between timers.
type Timer interface {
	Name() string
	MaxDuty() uint32
	SetDuty(ch Channel, duty uint32) error
	Close() error
}

// Config describes one timer.
type Config struct {
	Chip        string // sysfs chip name, e.g. "pwmchip0"
	Channels    []Channel
	FrequencyHz int
}

// NewTimer creates a timer based on the chosen mode.
func NewTimer(mock bool, name string, cfg Config) (Timer, error) {
	if mock {
		debug.Info("Using MOCK PWM timer %s (development mode)", name)
		return NewMockTimer(name, periodNs(cfg.FrequencyHz)), nil
	}
	return NewSysfsTimer(DefaultSysfsRoot, name, cfg)
}

func periodNs(freqHz int) uint32 {
	if freqHz <= 0 {
		return 0
	}
	return uint32(1_000_000_000 / freqHz)
}

// Write is one recorded SetDuty call.
type Write struct {
	Channel Channel
	Duty    uint32
}

// MockTimer keeps duties in memory and records every write. Used for
// development on PC or testing.
type MockTimer struct {
	name string
	max  uint32

	mu     sync.Mutex
	duty   map[Channel]uint32
	writes []Write
}

// NewMockTimer creates a mock timer reporting the given max duty.
func NewMockTimer(name string, maxDuty uint32) *MockTimer {
	return &MockTimer{name: name, max: maxDuty, duty: make(map[Channel]uint32)}
}

func (m *MockTimer) Name() string    { return m.name }
func (m *MockTimer) MaxDuty() uint32 { return m.max }

func (m *MockTimer) SetDuty(ch Channel, duty uint32) error {
	if duty > m.max {
		return fmt.Errorf("pwm %s: duty %d exceeds max %d", m.name, duty, m.max)
	}
	debug.PWM(m.name, int(ch), duty)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duty[ch] = duty
	m.writes = append(m.writes, Write{Channel: ch, Duty: duty})
	return nil
}

// Duty returns the current duty of a channel.
func (m *MockTimer) Duty(ch Channel) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duty[ch]
}

// Writes returns every SetDuty call so far.
func (m *MockTimer) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Write(nil), m.writes...)
}

func (m *MockTimer) Close() error {
	debug.Trace("PWM %s Close (mock)", m.name)
	return nil
}
