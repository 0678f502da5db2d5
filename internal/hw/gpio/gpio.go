package gpio

import (
	"sync"

	"github.com/einoj/muskrat/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Edge selects which transitions latch the edge-detect register of an input.
type Edge int

const (
	NoEdge Edge = iota
	RiseEdge
	FallEdge
	AnyEdge
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
//
// Edge detection is latched: once DetectEdge arms a pin, a matching
// transition sets a flag that EdgeDetected reads and clears in one step,
// so every edge is reported exactly once.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	DetectEdge(pin int, edge Edge) error
	EdgeDetected(pin int) (bool, error)
	Close() error
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	}
	return NewRPiRealDriver()
}

// MockDriver is an in-memory implementation that tracks pin levels and
// latched edges. Used for development on PC or testing; tests drive the
// inputs with SetInput and TriggerEdge.
type MockDriver struct {
	mu      sync.Mutex
	modes   map[int]PinMode
	levels  map[int]Level
	armed   map[int]Edge
	latched map[int]bool
}

// NewMockDriver returns a MockDriver with every pin low.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		modes:   make(map[int]PinMode),
		levels:  make(map[int]Level),
		armed:   make(map[int]Edge),
		latched: make(map[int]bool),
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[pin] = mode
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

func (m *MockDriver) DetectEdge(pin int, edge Edge) error {
	debug.GPIO("DetectEdge", pin, edge)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed[pin] = edge
	m.latched[pin] = false
	return nil
}

func (m *MockDriver) EdgeDetected(pin int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hit := m.latched[pin]
	m.latched[pin] = false
	return hit, nil
}

// SetInput simulates an external signal on an input pin and latches an
// edge if the transition matches the armed edge.
func (m *MockDriver) SetInput(pin int, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.levels[pin]
	m.levels[pin] = level
	if prev == level {
		return
	}
	switch m.armed[pin] {
	case RiseEdge:
		m.latched[pin] = m.latched[pin] || level == High
	case FallEdge:
		m.latched[pin] = m.latched[pin] || level == Low
	case AnyEdge:
		m.latched[pin] = true
	}
}

// TriggerEdge simulates one full press: a rising transition followed by release.
func (m *MockDriver) TriggerEdge(pin int) {
	m.SetInput(pin, High)
	m.SetInput(pin, Low)
}

// Level returns the last level written to or set on a pin.
func (m *MockDriver) Level(pin int) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin]
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
