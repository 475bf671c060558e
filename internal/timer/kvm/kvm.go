// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package kvm implements the QEMU+KVM TimerContext back-end: a host kernel
// module programs the VMX preemption timer in TSC units and exposes a
// shared read-only page translating host TSC to guest TSC, plus ioctls to
// register a deadline and query initialization. The kernel module itself is
// out of reach from pure Go, so this package expresses its contract as the
// Device interface and implements everything downstream of it: TSC
// translation, nanosecond conversion, and the poll-send latency
// compensation the design calls for.
package kvm

import (
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/tansiv/client-go/internal/timer"
	"github.com/tansiv/client-go/internal/tsc"
)

// SharedPage mirrors the read-only page the kernel module exposes.
// TSCOffset is stored signed: the module's wire format is an unsigned word
// used arithmetically as two's-complement signed, which the KVM source this
// design is drawn from never documents explicitly. We make the sign
// explicit here rather than carry the ambiguity forward.
type SharedPage struct {
	TSCOffset       int64
	TSCScalingRatio uint64 // Q32.32 fixed-point multiplier applied to host TSC deltas
}

// Device is the capability the host kernel module provides.
type Device interface {
	SharedPage() *SharedPage
	// RegisterDeadline arms the VMX preemption timer for the given
	// absolute guest-TSC tick count and notifies fire when it expires.
	RegisterDeadline(guestTSCTicks uint64, fire func()) error
	// Initialized reports whether the module has completed calibration.
	Initialized() (bool, error)
}

// tscScalingShift is the fractional-bit width of the Q32.32 fixed-point
// scaling ratio the shared page carries.
const tscScalingShift = 32

// scaleTSCDelta applies a Q32.32 fixed-point scaling ratio to a raw TSC
// delta using a full 128-bit intermediate product, so large deltas and
// ratios near 2^32 do not silently overflow a 64-bit multiply.
func scaleTSCDelta(delta, ratioQ32 uint64) uint64 {
	hi, lo := bits.Mul64(delta, ratioQ32)
	return (hi << (64 - tscScalingShift)) | (lo >> tscScalingShift)
}

// Backend is the QEMU+KVM back-end.
type Backend struct {
	device  Device
	handler timer.Handler
	dl      timer.Deadlines
	latency PollSendLatencyEstimator

	tscFreqHz        uint64
	applicationEpoch time.Duration

	mu           sync.Mutex
	started      bool
	stopped      bool
	initialNanos int64
}

// New builds a KVM back-end. tscFreqHz is the measured guest TSC frequency
// in Hz, obtained by the caller's calibration routine before construction.
func New(handler timer.Handler, device Device, tscFreqHz uint64, applicationEpoch time.Duration) *Backend {
	return &Backend{handler: handler, device: device, tscFreqHz: tscFreqHz, applicationEpoch: applicationEpoch}
}

func (b *Backend) guestTSCToNanos(guestTSC uint64) int64 {
	if b.tscFreqHz == 0 {
		return 0
	}
	return int64(guestTSC * uint64(time.Second) / b.tscFreqHz)
}

func (b *Backend) hostTSCNow() (nanos int64, guestTicks uint64) {
	page := b.device.SharedPage()
	hostTSC := tsc.Read()
	scaled := scaleTSCDelta(hostTSC, page.TSCScalingRatio)
	guestTicks = uint64(int64(scaled) + page.TSCOffset)
	return b.guestTSCToNanos(guestTicks), guestTicks
}

func (b *Backend) Start(firstDeadline time.Duration) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return 0, fmt.Errorf("kvm timer: already started")
	}
	ready, err := b.device.Initialized()
	if err != nil {
		return 0, fmt.Errorf("kvm timer: query init status: %w", err)
	}
	if !ready {
		return 0, fmt.Errorf("kvm timer: kernel module not initialized")
	}

	nowNanos, _ := b.hostTSCNow()
	b.initialNanos = nowNanos
	b.dl.Advance(firstDeadline)
	b.started = true
	return 0, b.arm(firstDeadline)
}

func (b *Backend) arm(d time.Duration) error {
	armedAt := b.SimulationNow()
	scheduled := armedAt + d
	compensated := b.latency.Compensate(scheduled)
	targetNanos := b.initialNanos + int64(compensated)
	targetGuestTicks := uint64(targetNanos) * b.tscFreqHz / uint64(time.Second)

	scheduledAt := time.Now()
	return b.device.RegisterDeadline(targetGuestTicks, func() {
		actual := armedAt + time.Since(scheduledAt)
		b.latency.Observe(compensated, actual)
		b.fire()
	})
}

func (b *Backend) fire() {
	b.handler.AtDeadline()

	b.mu.Lock()
	stopped := b.stopped
	next, prev := b.dl.Next(), b.dl.Previous()
	b.mu.Unlock()
	if stopped || !timer.ShouldRearm(b.handler) {
		return
	}
	b.arm(next - prev)
}

func (b *Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	return nil
}

func (b *Backend) SetNextDeadline(d time.Duration) error {
	b.dl.Advance(d)
	return nil
}

func (b *Backend) SimulationNow() time.Duration {
	nowNanos, _ := b.hostTSCNow()
	return time.Duration(nowNanos - b.initialNanos)
}

func (b *Backend) ApplicationNow() time.Time {
	return time.Unix(0, 0).Add(b.applicationEpoch + b.SimulationNow())
}

func (b *Backend) PreviousDeadline() time.Duration { return b.dl.Previous() }
func (b *Backend) NextDeadline() time.Duration     { return b.dl.Next() }
func (b *Backend) ConvertTimestamp(t time.Duration) time.Duration { return t }
func (b *Backend) Delay(d time.Duration)                          { time.Sleep(d) }

var _ timer.Backend = (*Backend)(nil)
