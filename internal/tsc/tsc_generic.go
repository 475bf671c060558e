// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !amd64

// Package tsc reads the hardware timestamp counter, adapting the
// per-architecture stub layout the rest of this ecosystem uses for hot-path
// primitives that have no portable stdlib equivalent.
package tsc

import "time"

// Read has no RDTSC-equivalent instruction wired up on this architecture;
// it falls back to a monotonic nanosecond clock, which is sufficient for
// KVM/Xen back-end tests run on non-amd64 hosts but not for production use
// of those back-ends (those require the host kernel module's matching
// architecture in the first place).
func Read() uint64 {
	return uint64(time.Now().UnixNano())
}
