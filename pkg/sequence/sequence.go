// Package sequence provides named, monotonically increasing counters with
// a single atomic increment-and-read operation. Invoice numbers are drawn
// from one of these so concurrent generators never share a number.
package sequence

import (
	"context"
	"fmt"
	"sync"
)

// Sequence hands out the next value of a named counter. The first value of
// a fresh counter is 1.
type Sequence interface {
	Next(ctx context.Context, name string) (int64, error)
}

// MemorySequence is a process-local Sequence
type MemorySequence struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemorySequence creates an empty MemorySequence
func NewMemorySequence() *MemorySequence {
	return &MemorySequence{values: make(map[string]int64)}
}

// Next increments and returns the named counter
func (s *MemorySequence) Next(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("sequence name is required")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name]++
	return s.values[name], nil
}

// Current returns the last value handed out, 0 if none
func (s *MemorySequence) Current(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[name]
}
