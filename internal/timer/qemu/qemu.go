// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package qemu implements the QEMU user-mode TimerContext back-end: the
// guest runs as an ordinary QEMU process and the deadline fires through a
// QEMU-provided timer callback invoked under QEMU's IO lock. Because that
// callback is only reachable from the host QEMU binary, this package
// expresses the contract QEMU must satisfy as the Clock interface and
// drives the rest of the back-end logic (deadline bookkeeping, simulation
// time translation) the same way the other back-ends do.
package qemu

import (
	"fmt"
	"sync"
	"time"

	"github.com/tansiv/client-go/internal/timer"
)

// Clock is the capability a host QEMU integration provides: a virtual-clock
// read and a one-shot timer callback registration, both expected to be
// called with QEMU's IO lock held.
type Clock interface {
	// VirtualNow returns QEMU_CLOCK_VIRTUAL's current value.
	VirtualNow() time.Duration
	// ArmTimer schedules fire to be invoked once virtual time reaches at.
	ArmTimer(at time.Duration, fire func())
	// Disarm cancels any pending timer callback.
	Disarm()
}

// Backend is the QEMU user-mode back-end.
type Backend struct {
	clock   Clock
	handler timer.Handler
	dl      timer.Deadlines

	mu           sync.Mutex
	started      bool
	stopped      bool
	virtualBase  time.Duration // QEMU_CLOCK_VIRTUAL value observed at Start
	applicationEpoch time.Duration
}

// New builds a QEMU user-mode back-end driven by clock.
func New(handler timer.Handler, clock Clock, applicationEpoch time.Duration) *Backend {
	return &Backend{handler: handler, clock: clock, applicationEpoch: applicationEpoch}
}

func (b *Backend) Start(firstDeadline time.Duration) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return 0, fmt.Errorf("qemu timer: already started")
	}
	b.virtualBase = b.clock.VirtualNow()
	b.dl.Advance(firstDeadline)
	b.started = true
	b.arm(firstDeadline)
	return 0, nil
}

func (b *Backend) arm(d time.Duration) {
	target := b.virtualBase + d
	b.clock.ArmTimer(target, b.fire)
}

// fire runs under QEMU's IO lock per the Clock contract, so it may safely
// call the handler and reprogram the timer without further locking on the
// host side.
func (b *Backend) fire() {
	b.handler.AtDeadline()

	b.mu.Lock()
	stopped := b.stopped
	next := b.dl.Next()
	b.mu.Unlock()
	if stopped || !timer.ShouldRearm(b.handler) {
		return
	}
	b.arm(next)
}

func (b *Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil
	}
	b.stopped = true
	b.clock.Disarm()
	return nil
}

func (b *Backend) SetNextDeadline(d time.Duration) error {
	b.dl.Advance(d)
	return nil
}

func (b *Backend) SimulationNow() time.Duration {
	return b.clock.VirtualNow() - b.virtualBase
}

func (b *Backend) ApplicationNow() time.Time {
	return time.Unix(0, 0).Add(b.applicationEpoch + b.SimulationNow())
}

func (b *Backend) PreviousDeadline() time.Duration { return b.dl.Previous() }
func (b *Backend) NextDeadline() time.Duration     { return b.dl.Next() }
func (b *Backend) ConvertTimestamp(t time.Duration) time.Duration { return t }
func (b *Backend) Delay(d time.Duration)                          { time.Sleep(d) }

var _ timer.Backend = (*Backend)(nil)
