// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package outputset implements the bounded, unordered, multi-writer/
// single-drainer slot set that collects outbound messages produced during a
// time slice. Many application goroutines call Insert concurrently; exactly
// one goroutine (the deadline handler) calls Drain between slices.
package outputset

import (
	"errors"

	"code.hybscloud.com/atomix"
)

// ErrNoSlotAvailable is returned by Insert when every slot is currently
// busy.
var ErrNoSlotAvailable = errors.New("outputset: no slot available")

// Set is a fixed-size array of slots, each independently guarded by a pair
// of atomic flags: busy (allocated to a writer) and valid (filled and ready
// for the drainer). A slot's lifecycle is Empty -> Busy -> BusyValid ->
// Empty.
type Set[T any] struct {
	slots []T
	busy  []atomix.Bool
	valid []atomix.Bool
}

// New builds a Set with the given number of slots.
func New[T any](numSlots int) *Set[T] {
	return &Set[T]{
		slots: make([]T, numSlots),
		busy:  make([]atomix.Bool, numSlots),
		valid: make([]atomix.Bool, numSlots),
	}
}

// Insert scans the busy flags for the first slot that flips from clear to
// set, writes msg into it, and marks it valid. Insertion order across slots
// is not preserved; downstream ordering is carried by timestamps embedded
// in the message itself.
func (s *Set[T]) Insert(msg T) error {
	for i := range s.busy {
		if !s.busy[i].CompareAndSwapAcqRel(false, true) {
			continue
		}
		s.slots[i] = msg
		s.valid[i].StoreRelease(true)
		return nil
	}
	return ErrNoSlotAvailable
}

// Drain invokes fn once for every slot currently marked valid, in slot-index
// order, taking ownership of the message and returning the slot to Empty
// before the next slot is examined. Drain is intended to be called by a
// single drainer goroutine; concurrent Drain calls are not safe.
func (s *Set[T]) Drain(fn func(T)) {
	var zero T
	for i := range s.valid {
		if !s.valid[i].LoadAcquire() {
			continue
		}
		msg := s.slots[i]
		s.slots[i] = zero
		s.valid[i].StoreRelease(false)
		s.busy[i].StoreRelease(false)
		fn(msg)
	}
}

// Cap returns the number of slots in the set.
func (s *Set[T]) Cap() int {
	return len(s.slots)
}
