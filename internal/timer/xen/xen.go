// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package xen implements the Xen TimerContext back-end: similar to the KVM
// back-end, but the shared TSC-information page is exposed by the
// hypervisor rather than a host kernel module, and the deadline handler
// reports the next slice's duration in raw TSC ticks rather than
// nanoseconds.
package xen

import (
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/tansiv/client-go/internal/timer"
	"github.com/tansiv/client-go/internal/tsc"
)

// SharedTSCInfo mirrors the hypervisor-exposed shared page.
type SharedTSCInfo struct {
	TSCOffset           int64
	TSCScalingRatio      uint64 // Q32.32 fixed-point
	TSCSimulationOffset  int64  // additional offset relating guest TSC to simulation-time zero
}

// Hypervisor is the capability Xen provides: reading the shared info page
// and arming a one-shot deadline expressed in TSC ticks.
type Hypervisor interface {
	SharedTSCInfo() *SharedTSCInfo
	// ArmDeadline schedules fire to run once the guest TSC reaches
	// atGuestTSC.
	ArmDeadline(atGuestTSC uint64, fire func())
	Disarm()
}

const tscScalingShift = 32

func scaleTSCDelta(delta, ratioQ32 uint64) uint64 {
	hi, lo := bits.Mul64(delta, ratioQ32)
	return (hi << (64 - tscScalingShift)) | (lo >> tscScalingShift)
}

// Backend is the Xen back-end.
type Backend struct {
	hv      Hypervisor
	handler timer.Handler
	dl      timer.Deadlines

	tscFreqHz        uint64
	applicationEpoch time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds a Xen back-end. tscFreqHz is the measured guest TSC frequency
// in Hz.
func New(handler timer.Handler, hv Hypervisor, tscFreqHz uint64, applicationEpoch time.Duration) *Backend {
	return &Backend{handler: handler, hv: hv, tscFreqHz: tscFreqHz, applicationEpoch: applicationEpoch}
}

func (b *Backend) guestTSCNow() uint64 {
	info := b.hv.SharedTSCInfo()
	hostTSC := tsc.Read()
	scaled := scaleTSCDelta(hostTSC, info.TSCScalingRatio)
	return uint64(int64(scaled) + info.TSCOffset + info.TSCSimulationOffset)
}

func (b *Backend) ticksFromDuration(d time.Duration) uint64 {
	return uint64(d) * b.tscFreqHz / uint64(time.Second)
}

func (b *Backend) durationFromTicks(ticks uint64) time.Duration {
	if b.tscFreqHz == 0 {
		return 0
	}
	return time.Duration(ticks * uint64(time.Second) / b.tscFreqHz)
}

func (b *Backend) Start(firstDeadline time.Duration) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return 0, fmt.Errorf("xen timer: already started")
	}
	b.dl.Advance(firstDeadline)
	b.started = true
	b.arm(firstDeadline)
	return 0, nil
}

// arm schedules the next wake-up, expressing the slice duration in TSC
// ticks as the design requires for this back-end.
func (b *Backend) arm(sliceDuration time.Duration) {
	target := b.guestTSCNow() + b.ticksFromDuration(sliceDuration)
	b.hv.ArmDeadline(target, b.fire)
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
	if b.stopped {
		return nil
	}
	b.stopped = true
	b.hv.Disarm()
	return nil
}

func (b *Backend) SetNextDeadline(d time.Duration) error {
	b.dl.Advance(d)
	return nil
}

func (b *Backend) SimulationNow() time.Duration {
	return b.durationFromTicks(b.guestTSCNow())
}

func (b *Backend) ApplicationNow() time.Time {
	return time.Unix(0, 0).Add(b.applicationEpoch + b.SimulationNow())
}

func (b *Backend) PreviousDeadline() time.Duration { return b.dl.Previous() }
func (b *Backend) NextDeadline() time.Duration     { return b.dl.Next() }
func (b *Backend) ConvertTimestamp(t time.Duration) time.Duration { return t }
func (b *Backend) Delay(d time.Duration)                          { time.Sleep(d) }

var _ timer.Backend = (*Backend)(nil)
