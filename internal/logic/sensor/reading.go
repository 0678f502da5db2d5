package sensor

import (
	"fmt"
	"sync"
	"time"
)

// DetectorCount is the number of photodiode channels read per sample.
const DetectorCount = 7

// Raw holds the seven conversions of one sample, in conversion order.
// FarLeft and FarRight are kept for telemetry only; steering never sees them.
type Raw struct {
	Front    uint16 `json:"front"`
	FarLeft  uint16 `json:"far_left"`
	Left1    uint16 `json:"left1"`
	Left2    uint16 `json:"left2"`
	FarRight uint16 `json:"far_right"`
	Right1   uint16 `json:"right1"`
	Right2   uint16 `json:"right2"`
}

func rawFromValues(v [DetectorCount]uint16) Raw {
	return Raw{
		Front:    v[0],
		FarLeft:  v[1],
		Left1:    v[2],
		Left2:    v[3],
		FarRight: v[4],
		Right1:   v[5],
		Right2:   v[6],
	}
}

// Reading is what steering consumes: front passed through, each side the
// truncating mean of its detector pair.
type Reading struct {
	Front uint16 `json:"front"`
	Left  uint16 `json:"left"`
	Right uint16 `json:"right"`
}

// Reading reduces a raw sample to the steering reading.
func (r Raw) Reading() Reading {
	return Reading{
		Front: r.Front,
		Left:  mean(r.Left1, r.Left2),
		Right: mean(r.Right1, r.Right2),
	}
}

// String formats the seven raw channels for the diagnostic dump.
func (r Raw) String() string {
	return fmt.Sprintf("front=%d | far_left=%d left1=%d left2=%d | far_right=%d right1=%d right2=%d",
		r.Front, r.FarLeft, r.Left1, r.Left2, r.FarRight, r.Right1, r.Right2)
}

// mean truncates; the sum is widened so two full-scale values cannot overflow.
func mean(a, b uint16) uint16 {
	return uint16((uint32(a) + uint32(b)) / 2)
}

// Frame is one published sample.
type Frame struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Raw     Raw       `json:"raw"`
	Reading Reading   `json:"reading"`
}

// Slot holds the latest frame. It has a single writer, the unit that owns
// the Array in the running mode, and any number of readers.
type Slot struct {
	mu    sync.RWMutex
	frame Frame
	ok    bool
}

// Publish replaces the latest frame.
func (s *Slot) Publish(f Frame) {
	s.mu.Lock()
	s.frame = f
	s.ok = true
	s.mu.Unlock()
}

// Latest returns the most recent frame; ok is false until the first Publish.
func (s *Slot) Latest() (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.ok
}
