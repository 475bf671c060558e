// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package docker implements the Docker TimerContext back-end. No CPU-level
// freeze is available inside a container, so an external "stopper" process
// pauses and resumes the container by writing its cgroup-freezer file, and
// exposes a UNIX datagram socket for deadline programming plus an mmapped
// shared timespec that processes inside the container can read (via an
// LD_PRELOAD shim, outside this package's scope) to see the accumulated
// simulated offset.
//
// The design leaves open how multiple outstanding wake-ups on the stopper
// socket are coalesced. This implementation treats the socket as
// edge-triggered with exactly one byte read per slice boundary: Start
// launches a goroutine that reads one acknowledgement byte at a time and
// invokes the handler once per byte, never batching reads. That keeps the
// handler invocation count equal to the number of slice boundaries the
// stopper signals, which is the simplest policy consistent with "one byte
// per slot boundary."
package docker

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tansiv/client-go/internal/timer"
)

// Freezer is the capability to pause/resume the container via its
// cgroup-freezer file.
type Freezer interface {
	Freeze() error
	Thaw() error
}

// SharedOffset is the mmapped shared timespec the stopper maintains;
// processes inside the container read it to learn the accumulated
// simulated-time offset.
type SharedOffset interface {
	Store(d time.Duration)
}

// Backend is the Docker back-end.
type Backend struct {
	stopper net.Conn // UNIX datagram socket to the stopper process
	freezer Freezer
	shared  SharedOffset
	handler timer.Handler
	dl      timer.Deadlines

	applicationEpoch time.Duration
	simOffset        time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds a Docker back-end. stopper is an already-connected UNIX
// datagram socket to the stopper process.
func New(handler timer.Handler, stopper net.Conn, freezer Freezer, shared SharedOffset, applicationEpoch time.Duration) *Backend {
	return &Backend{
		handler:          handler,
		stopper:          stopper,
		freezer:          freezer,
		shared:           shared,
		applicationEpoch: applicationEpoch,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

func (b *Backend) Start(firstDeadline time.Duration) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return 0, fmt.Errorf("docker timer: already started")
	}
	b.dl.Advance(firstDeadline)
	b.started = true
	if err := b.writeSliceDuration(firstDeadline); err != nil {
		return 0, err
	}
	go b.watch()
	return 0, nil
}

// writeSliceDuration serializes d as a timespec and writes it to the
// stopper socket, matching set_next_deadline's wire contract.
func (b *Backend) writeSliceDuration(d time.Duration) error {
	var buf [16]byte
	sec := int64(d / time.Second)
	nsec := int64(d % time.Second)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(sec))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(nsec))
	_, err := b.stopper.Write(buf[:])
	return err
}

// watch reads one acknowledgement byte per slice boundary from the stopper
// socket and runs the handler once per byte, per this package's documented
// coalescing policy (see package doc).
func (b *Backend) watch() {
	defer close(b.doneCh)
	ack := make([]byte, 1)
	for {
		n, err := b.stopper.Read(ack)
		select {
		case <-b.stopCh:
			return
		default:
		}
		if err != nil || n == 0 {
			return
		}
		if err := b.freezer.Freeze(); err != nil {
			return
		}
		b.handler.AtDeadline()
		b.mu.Lock()
		stopped := b.stopped
		next, prev := b.dl.Next(), b.dl.Previous()
		b.simOffset = next
		b.mu.Unlock()
		if b.shared != nil {
			b.shared.Store(b.simOffset)
		}
		if stopped || !timer.ShouldRearm(b.handler) {
			return
		}
		if err := b.freezer.Thaw(); err != nil {
			return
		}
		if err := b.writeSliceDuration(next - prev); err != nil {
			return
		}
	}
}

func (b *Backend) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopCh)
	err := b.stopper.Close()
	<-b.doneCh
	return err
}

func (b *Backend) SetNextDeadline(d time.Duration) error {
	b.dl.Advance(d)
	return nil
}

func (b *Backend) SimulationNow() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.simOffset
}

func (b *Backend) ApplicationNow() time.Time {
	return time.Unix(0, 0).Add(b.applicationEpoch + b.SimulationNow())
}

func (b *Backend) PreviousDeadline() time.Duration { return b.dl.Previous() }
func (b *Backend) NextDeadline() time.Duration     { return b.dl.Next() }
func (b *Backend) ConvertTimestamp(t time.Duration) time.Duration { return t }
func (b *Backend) Delay(d time.Duration)                          { time.Sleep(d) }

var _ timer.Backend = (*Backend)(nil)
