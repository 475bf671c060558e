// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build amd64

// Package tsc reads the hardware timestamp counter, adapting the
// per-architecture stub layout the rest of this ecosystem uses for hot-path
// primitives that have no portable stdlib equivalent.
package tsc

// Read returns the current value of the CPU's timestamp-stamp counter via
// RDTSC. Only meaningful to the KVM and Xen back-ends, which translate it
// through a host-provided scaling page; callers on other back-ends never
// call this package.
func Read() uint64 {
	return readTSC()
}

// readTSC is implemented in tsc_amd64.s.
func readTSC() uint64
