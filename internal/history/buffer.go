// Package history keeps a bounded, insertion-ordered record of confident
// emotion samples and answers "what is the current emotional state?".
package history

import (
	"sync/atomic"

	"github.com/MrWong99/mindscope/pkg/types"
)

// Defaults applied by [New] for zero-valued [Config] fields.
const (
	DefaultCapacity        = 50
	DefaultConfidenceFloor = 0.7
	DefaultRecentWindow    = 5
)

// Config controls retention and the current-state query.
type Config struct {
	// Capacity is the maximum number of retained samples.
	Capacity int

	// ConfidenceFloor is the minimum confidence a sample needs to be
	// retained. The current-state query additionally requires confidence
	// strictly above the floor.
	ConfidenceFloor float64

	// RecentWindow is how many of the newest samples the current-state
	// query looks at.
	RecentWindow int
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = DefaultConfidenceFloor
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = DefaultRecentWindow
	}
	return c
}

// Buffer is a copy-on-write ring of samples. Every published slice is
// immutable, so readers never block the writer and always observe a
// consistent state.
//
// Push must be called from a single goroutine (the analysis loop). All
// read methods are safe for concurrent use with Push and with each other.
type Buffer struct {
	cfg     Config
	samples atomic.Pointer[[]types.Sample]
}

// New returns an empty buffer.
func New(cfg Config) *Buffer {
	b := &Buffer{cfg: cfg.withDefaults()}
	empty := []types.Sample{}
	b.samples.Store(&empty)
	return b
}

// Config returns the effective configuration.
func (b *Buffer) Config() Config {
	return b.cfg
}

// Push retains s if its confidence reaches the floor, evicting the oldest
// sample once the buffer is full. It reports whether s was retained.
func (b *Buffer) Push(s types.Sample) bool {
	if s.Confidence < b.cfg.ConfidenceFloor {
		return false
	}
	cur := *b.samples.Load()

	start := 0
	if len(cur) >= b.cfg.Capacity {
		start = len(cur) - b.cfg.Capacity + 1
	}
	next := make([]types.Sample, 0, len(cur)-start+1)
	next = append(next, cur[start:]...)
	next = append(next, s)
	b.samples.Store(&next)
	return true
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int {
	return len(*b.samples.Load())
}

// Snapshot returns the retained samples oldest first. The returned slice is
// owned by the caller.
func (b *Buffer) Snapshot() []types.Sample {
	cur := *b.samples.Load()
	out := make([]types.Sample, len(cur))
	copy(out, cur)
	return out
}

// Latest returns the newest retained sample.
func (b *Buffer) Latest() (types.Sample, bool) {
	cur := *b.samples.Load()
	if len(cur) == 0 {
		return types.Sample{}, false
	}
	return cur[len(cur)-1], true
}

// CurrentState returns the emotion of the most recent sample among the
// newest RecentWindow entries whose confidence exceeds the floor. It
// reports false when the buffer is empty or no such sample exists.
func (b *Buffer) CurrentState() (types.Emotion, bool) {
	cur := *b.samples.Load()
	stop := max(0, len(cur)-b.cfg.RecentWindow)
	for i := len(cur) - 1; i >= stop; i-- {
		if cur[i].Confidence > b.cfg.ConfidenceFloor {
			return cur[i].Emotion, true
		}
	}
	return "", false
}
