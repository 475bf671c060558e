// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package seqlock implements a single-writer/many-reader sequence lock for
// small copyable values, safe when the writer runs on a goroutine that can
// run concurrently with an arbitrary reader at an unpredictable point — the
// same hazard a POSIX signal handler poses to interrupted application code.
// The process timer back-end uses it to publish the current
// application/simulation time offset without taking a mutex on the read
// path.
package seqlock

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// SeqLock guards a value of type T with an even=quiescent, odd=writing
// sequence counter. Readers retry if a write started or completed during
// their read; there is exactly one writer.
type SeqLock[T any] struct {
	seq   atomix.Uint64
	value T
}

// New builds a SeqLock holding the given initial value.
func New[T any](initial T) *SeqLock[T] {
	return &SeqLock[T]{value: initial}
}

// Load returns a consistent snapshot of the guarded value, retrying until a
// read that did not overlap a write completes.
func (l *SeqLock[T]) Load() T {
	sw := spin.Wait{}
	for {
		seq1 := l.seq.LoadAcquire()
		if seq1&1 != 0 {
			sw.Once()
			continue
		}
		v := l.value
		seq2 := l.seq.LoadAcquire()
		if seq1 == seq2 {
			return v
		}
		sw.Once()
	}
}

// Store publishes a new value. Must only be called by the single writer;
// concurrent Store calls are not safe.
func (l *SeqLock[T]) Store(v T) {
	seq := l.seq.LoadRelaxed()
	l.seq.StoreRelease(seq + 1)
	l.value = v
	l.seq.StoreRelease(seq + 2)
}
