// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bufpool implements a fixed-capacity pool of pre-allocated,
// reusable slots guarded by per-slot atomic busy flags — the same
// CAS-scan-and-release idiom [code.hybscloud.com/lfq] uses for its queue
// indices, generalized here to own the backing storage itself instead of
// just an index into it.
//
// A Pool is generic over the element type: anything that can be reset to a
// fresh state on lease. In this module it backs both the inbound frame
// buffers and the outbound payload staging buffers, each a BytesBuffer pool.
package bufpool

import (
	"errors"
	"fmt"

	"code.hybscloud.com/atomix"
)

// ErrNoBufferAvailable is returned by Allocate when every slot is leased.
var ErrNoBufferAvailable = errors.New("bufpool: no buffer available")

// ErrSizeTooBig is returned by Allocate when the requested size exceeds the
// pool's fixed slot capacity.
var ErrSizeTooBig = errors.New("bufpool: size too big")

// Resettable is implemented by pool element types. Reset runs once per
// lease, before the slot is handed to the caller, so every Buffer sees a
// clean state regardless of what the previous holder left behind.
type Resettable interface {
	// Reset restores the element to its zero-equivalent state, sized for
	// at most capacity bytes of eventual content.
	Reset(capacity int)
}

// Pool is a fixed-capacity set of pre-allocated, reusable slots of type T.
// Pool is safe for concurrent Allocate calls from any number of goroutines;
// Buffer release is safe to call from any goroutine regardless of which one
// allocated it.
type Pool[T Resettable] struct {
	bufferSize int
	slots      []T
	busy       []atomix.Bool
}

// New pre-allocates numBuffers slots of bufferSize capacity each. make is
// invoked once per slot to construct the zero-value backing element (e.g. a
// byte-slice wrapper, or a scratch builder).
func New[T Resettable](bufferSize, numBuffers int, make_ func() T) *Pool[T] {
	slots := make([]T, numBuffers)
	for i := range slots {
		slots[i] = make_()
	}
	return &Pool[T]{
		bufferSize: bufferSize,
		slots:      slots,
		busy:       make([]atomix.Bool, numBuffers),
	}
}

// BufferSize returns the fixed per-slot capacity.
func (p *Pool[T]) BufferSize() int {
	return p.bufferSize
}

// NumBuffers returns the number of slots in the pool.
func (p *Pool[T]) NumBuffers() int {
	return len(p.slots)
}

// Allocate leases the first free slot able to hold requestedSize bytes of
// content. The returned Buffer exclusively owns that slot until Release is
// called; Release is idempotent and safe to defer.
func (p *Pool[T]) Allocate(requestedSize int) (*Buffer[T], error) {
	if requestedSize > p.bufferSize {
		return nil, ErrSizeTooBig
	}
	for idx := range p.busy {
		if !p.busy[idx].CompareAndSwapAcqRel(false, true) {
			continue
		}
		p.slots[idx].Reset(requestedSize)
		return &Buffer[T]{pool: p, index: idx}, nil
	}
	return nil, ErrNoBufferAvailable
}

func (p *Pool[T]) free(index int) {
	p.busy[index].StoreRelease(false)
}

// Buffer is a leased, exclusively-owned handle into one Pool slot. The zero
// Buffer is not usable; obtain one via Pool.Allocate. Buffer is deliberately
// non-copyable in spirit — copying the struct and releasing both copies
// double-frees the slot — so callers should pass *Buffer[T], never Buffer[T]
// by value.
type Buffer[T Resettable] struct {
	pool     *Pool[T]
	index    int
	released atomix.Bool
}

// Value returns the leased slot's backing element. T is expected to already
// be a pointer or reference-like Resettable (as BytesBuffer pools use), so
// this hands back the element itself rather than a pointer to the slot.
func (b *Buffer[T]) Value() T {
	return b.pool.slots[b.index]
}

// Release returns the slot to the pool. Calling Release more than once, or
// on a nil Buffer, is a safe no-op so it can be unconditionally deferred on
// every exit path of the handle's lifetime.
func (b *Buffer[T]) Release() {
	if b == nil {
		return
	}
	if b.released.CompareAndSwapAcqRel(false, true) {
		b.pool.free(b.index)
	}
}

func (b *Buffer[T]) String() string {
	return fmt.Sprintf("bufpool.Buffer{index: %d}", b.index)
}
