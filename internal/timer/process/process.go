// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

// Package process implements the process back-end: a timerfd armed on the
// monotonic clock, watched by a dedicated goroutine through epoll. Go gives
// user code no equivalent of a POSIX signal handler that can preempt an
// arbitrary interrupted thread, so this back-end substitutes the one
// concurrency property that actually matters to the rest of the design:
// the deadline fires on a goroutine that can run concurrently with
// application goroutines at a point the application cannot predict or
// block. That is why the shared time offsets still go through a SeqLock
// rather than a mutex — the property the design calls "signal-handler-safe"
// is really "safe against an interruption the reader did not choose to
// yield at," which a dedicated epoll goroutine reproduces just as well as
// a SIGALRM handler would.
package process

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tansiv/client-go/internal/seqlock"
	"github.com/tansiv/client-go/internal/timer"
)

// adjustedClock tracks a continuously-advancing duration that can be
// stepped backward to compensate for real time elapsed while frozen.
type adjustedClock struct {
	offset *seqlock.SeqLock[time.Duration]
	start  time.Time
}

func newAdjustedClock(initial time.Duration, start time.Time) adjustedClock {
	return adjustedClock{offset: seqlock.New(initial), start: start}
}

func (c adjustedClock) get() time.Duration {
	return c.offset.Load() + time.Since(c.start)
}

func (c adjustedClock) adjust(delta time.Duration) {
	c.offset.Store(c.offset.Load() - delta)
}

// Backend is the process TimerContext back-end.
type Backend struct {
	handler timer.Handler
	dl      timer.Deadlines

	applicationTime adjustedClock
	simulationTime  adjustedClock

	started bool
	stopped bool
	mu      sync.Mutex // guards the started/stopped bookkeeping only

	freezeInstant time.Time

	applicationEpoch time.Duration

	timerFD int
	epollFD int
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds a process back-end. applicationEpoch is the configured initial
// wall-clock time (Config.TimeOffset) that ApplicationNow is relative to.
func New(handler timer.Handler, applicationEpoch time.Duration) *Backend {
	return &Backend{
		handler:          handler,
		applicationEpoch: applicationEpoch,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// Start arms the timer to fire at firstDeadline and launches the epoll
// watcher goroutine.
func (b *Backend) Start(firstDeadline time.Duration) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return 0, fmt.Errorf("process timer: already started")
	}

	now := time.Now()
	b.applicationTime = newAdjustedClock(b.applicationEpoch, now)
	b.simulationTime = newAdjustedClock(0, now)
	b.dl.Advance(firstDeadline)

	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return 0, fmt.Errorf("process timer: timerfd_create: %w", err)
	}
	b.timerFD = tfd

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(tfd)
		return 0, fmt.Errorf("process timer: epoll_create1: %w", err)
	}
	b.epollFD = epfd

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, tfd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(tfd)}); err != nil {
		unix.Close(tfd)
		unix.Close(epfd)
		return 0, fmt.Errorf("process timer: epoll_ctl: %w", err)
	}

	if err := b.arm(firstDeadline); err != nil {
		unix.Close(tfd)
		unix.Close(epfd)
		return 0, err
	}

	b.started = true
	go b.watch()
	return 0, nil
}

// arm programs the timerfd to fire once after d elapses.
func (b *Backend) arm(d time.Duration) error {
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if spec.Value.Sec == 0 && spec.Value.Nsec == 0 {
		spec.Value.Nsec = 1 // timerfd_settime treats all-zero as disarm
	}
	return unix.TimerfdSettime(b.timerFD, 0, &spec, nil)
}

func (b *Backend) watch() {
	defer close(b.doneCh)
	events := make([]unix.EpollEvent, 1)
	buf := make([]byte, 8)
	for {
		n, err := unix.EpollWait(b.epollFD, events, 100)
		select {
		case <-b.stopCh:
			return
		default:
		}
		if err != nil || n == 0 {
			continue
		}
		unix.Read(b.timerFD, buf) // drain the expiration counter
		b.freeze()
		b.handler.AtDeadline()
		b.thaw()
	}
}

// freeze records the wall-clock instant the deadline fired, for thaw to
// compute elapsed real time to compensate for.
func (b *Backend) freeze() {
	b.freezeInstant = time.Now()
}

// thaw subtracts the real time spent inside the deadline handler from both
// adjusted clocks, then rearms the timer for the slice the handler set via
// SetNextDeadline.
func (b *Backend) thaw() {
	elapsed := time.Since(b.freezeInstant)
	b.applicationTime.adjust(elapsed)
	b.simulationTime.adjust(elapsed)

	b.mu.Lock()
	stopped := b.stopped
	next := b.dl.Next()
	prev := b.dl.Previous()
	b.mu.Unlock()
	if stopped || !timer.ShouldRearm(b.handler) {
		return
	}
	b.arm(next - prev)
}

// Stop disarms the timer and stops the watcher goroutine.
func (b *Backend) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopCh)
	unix.Close(b.timerFD)
	unix.Close(b.epollFD)
	<-b.doneCh
	return nil
}

// SetNextDeadline moves prev<-next, next<-d. The caller (the deadline
// handler, via Context) calls this before returning so thaw rearms for the
// right duration.
func (b *Backend) SetNextDeadline(d time.Duration) error {
	b.dl.Advance(d)
	return nil
}

func (b *Backend) SimulationNow() time.Duration   { return b.simulationTime.get() }
func (b *Backend) ApplicationNow() time.Time      { return time.Unix(0, 0).Add(b.applicationTime.get()) }
func (b *Backend) PreviousDeadline() time.Duration { return b.dl.Previous() }
func (b *Backend) NextDeadline() time.Duration     { return b.dl.Next() }
func (b *Backend) ConvertTimestamp(t time.Duration) time.Duration { return t }

func (b *Backend) Delay(d time.Duration) {
	time.Sleep(d)
}

var _ timer.Backend = (*Backend)(nil)
