// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package client implements the in-guest VSG protocol client: Context ties
// the wait-free queue, the lock-free output set, the pooled buffers, and a
// TimerContext back-end together behind start/stop/send/recv/poll/
// gettimeofday.
package client

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tansiv/client-go/internal/bufpool"
	"github.com/tansiv/client-go/internal/lfq"
	"github.com/tansiv/client-go/internal/outputset"
	"github.com/tansiv/client-go/internal/timer"
	"github.com/tansiv/client-go/internal/timer/process"
	"github.com/tansiv/client-go/internal/wire"
)

// inboundPacket is one entry in the inbound queue: the raw frame bytes
// retained zero-copy from the leased pool buffer, with src/dst already
// parsed out by the wire decoder.
type inboundPacket struct {
	src, dst wire.Addr
	buf      *bufpool.Buffer[*bufpool.BytesBuffer]
}

func (p *inboundPacket) payload() []byte {
	msg, _ := wire.DecodeFromActor(p.buf.Value().Bytes())
	return msg.Payload
}
func (p *inboundPacket) release() { p.buf.Release() }

// outboundMsg is a partially built outgoing packet sitting in the output
// set, waiting for the deadline handler to drain and finalize it.
type outboundMsg struct {
	dst      wire.Addr
	sendTime time.Duration
	buf      *bufpool.Buffer[*bufpool.BytesBuffer]
}

func (m *outboundMsg) payload() []byte { return m.buf.Value().Bytes() }
func (m *outboundMsg) release()        { m.buf.Release() }

// lastSendRecord is the pacing bookkeeping Send consults and updates.
type lastSendRecord struct {
	size         int
	sendTime     time.Duration
	delayedCount uint64
}

// Context is the top-level owner of every VSG protocol resource: the
// connector, the queues, the buffer pools, and the timer back-end. A
// Context is created via New or NewWithBackend, started exactly once with
// Start, and torn down with Stop.
type Context struct {
	cfg    Config
	logger *zap.Logger

	conn   *wire.Connector
	connMu sync.Mutex

	inputPool  *bufpool.Pool[*bufpool.BytesBuffer]
	outputPool *bufpool.Pool[*bufpool.BytesBuffer]
	inbound    *lfq.ArrayQueue[*inboundPacket]
	outbound   *outputset.Set[*outboundMsg]

	backend timer.Backend

	recvCallback     func()
	deadlineCallback func(time.Duration)

	lastSendMu sync.Mutex
	lastSend   lastSendRecord

	// upcoming holds post-deadline messages deferred by an overrun.
	// Touched only inside AtDeadline, which is never invoked concurrently
	// with itself, so it needs no lock of its own.
	upcoming []*outboundMsg

	startOnce sync.Once
	started   atomic.Bool
	ended     atomic.Bool
}

func newContext(cfg Config, recvCallback func(), deadlineCallback func(time.Duration)) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	inputPool := bufpool.NewBytesBufferPool(wire.MaxPacketSize, cfg.NumBuffers)
	conn, err := wire.Dial(cfg.ActorSocket, inputPool)
	if err != nil {
		return nil, wrapErr(err)
	}
	return newContextFromConnector(cfg, conn, inputPool, recvCallback, deadlineCallback)
}

// newContextFromConnector builds a Context around an already-established
// connector, letting tests substitute a net.Pipe() end for the real UNIX
// socket Dial opens.
func newContextFromConnector(cfg Config, conn *wire.Connector, inputPool *bufpool.Pool[*bufpool.BytesBuffer], recvCallback func(), deadlineCallback func(time.Duration)) (*Context, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	outputPool := bufpool.NewBytesBufferPool(wire.MaxPacketSize, cfg.NumBuffers)

	return &Context{
		cfg:              cfg,
		logger:           logger,
		conn:             conn,
		inputPool:        inputPool,
		outputPool:       outputPool,
		inbound:          lfq.NewArrayQueue[*inboundPacket](cfg.QueueSize),
		outbound:         outputset.New[*outboundMsg](cfg.NumBuffers),
		recvCallback:     recvCallback,
		deadlineCallback: deadlineCallback,
	}, nil
}

// New builds a Context using the process back-end: a timerfd watched
// through epoll, suitable for an ordinary (non-virtualized) execution
// context. recvCallback is invoked when the inbound queue transitions from
// empty to non-empty during a deadline slice; deadlineCallback is invoked
// with each new deadline as it is established.
func New(cfg Config, recvCallback func(), deadlineCallback func(time.Duration)) (*Context, error) {
	return NewWithBackend(cfg, recvCallback, deadlineCallback, func(h timer.Handler) timer.Backend {
		return process.New(h, cfg.TimeOffset)
	})
}

// NewWithBackend builds a Context using a caller-supplied back-end factory.
// The QEMU, KVM, Xen, and Docker back-ends each need a host-specific
// capability (a QEMU clock, a kernel-module device, a hypervisor page, a
// stopper socket) that only the FFI collaborator hosting this library can
// provide, so those back-ends are constructed by the caller's factory
// rather than by this package.
func NewWithBackend(cfg Config, recvCallback func(), deadlineCallback func(time.Duration), factory func(timer.Handler) timer.Backend) (*Context, error) {
	ctx, err := newContext(cfg, recvCallback, deadlineCallback)
	if err != nil {
		return nil, err
	}
	ctx.backend = factory(ctx)
	return ctx, nil
}

// Start reads the actor's first message, which must be GotoDeadline, arms
// the timer back-end, and invokes the deadline callback. Start is a
// one-shot operation; every call after the first returns KindAlreadyStarted
// without touching handler state.
func (ctx *Context) Start() (time.Duration, error) {
	var offset time.Duration
	var startErr error
	ran := false

	ctx.startOnce.Do(func() {
		ran = true
		ctx.connMu.Lock()
		defer ctx.connMu.Unlock()

		msg, buf, err := ctx.conn.Recv()
		if err != nil {
			startErr = wrapErr(err)
			return
		}
		defer buf.Release()

		if msg.Tag != wire.FromActorGotoDeadline {
			startErr = newError(KindProtocolViolation, fmt.Errorf("first message from actor was not GotoDeadline"))
			return
		}

		deadline := msg.Deadline.Duration()
		offset, err = ctx.backend.Start(deadline)
		if err != nil {
			startErr = wrapErr(err)
			return
		}
		ctx.started.Store(true)
		if ctx.deadlineCallback != nil {
			ctx.deadlineCallback(deadline)
		}
	})

	if !ran {
		return 0, newError(KindAlreadyStarted, nil)
	}
	return offset, startErr
}

// Stop forwards to the back-end, disarming the timer. No further deadline
// callbacks fire after Stop returns.
func (ctx *Context) Stop() error {
	ctx.ended.Store(true)
	if err := ctx.backend.Stop(); err != nil {
		return wrapErr(err)
	}
	return nil
}

// Finished implements timer.Finisher: once the simulation has ended, no
// back-end rearms after the next AtDeadline call returns.
func (ctx *Context) Finished() bool {
	return ctx.ended.Load()
}

// AtDeadline is the deadline-handler body, called by the timer back-end at
// every slice boundary. It drains the output set, flushes deferred
// post-deadline messages, announces AtDeadline, and reads FromActor
// messages until the slice terminates.
func (ctx *Context) AtDeadline() {
	ctx.connMu.Lock()
	defer ctx.connMu.Unlock()

	ctx.drainOutbound()
	ctx.flushUpcoming()
	if ctx.ended.Load() {
		return
	}

	if err := ctx.conn.Send(wire.AtDeadlineMessage()); err != nil {
		ctx.logger.Warn("send AtDeadline failed, ending simulation", zap.Error(err))
		ctx.ended.Store(true)
		return
	}

	ctx.readUntilSliceEnds()
}

func (ctx *Context) drainOutbound() {
	ctx.outbound.Drain(func(msg *outboundMsg) {
		if ctx.ended.Load() {
			msg.release()
			return
		}

		sendTime := ctx.backend.ConvertTimestamp(msg.sendTime)
		next := ctx.backend.NextDeadline()
		prev := ctx.backend.PreviousDeadline()

		var lastQueued time.Duration
		hasQueued := len(ctx.upcoming) > 0
		if hasQueued {
			lastQueued = ctx.upcoming[len(ctx.upcoming)-1].sendTime
		}

		adjusted, overran := timer.CheckDeadlineOverrun(sendTime, next, lastQueued, hasQueued)
		if overran {
			msg.sendTime = adjusted
			ctx.upcoming = append(ctx.upcoming, msg)
			return
		}
		if adjusted < prev {
			adjusted = prev
		}
		if adjusted > next {
			// A wall-clock overrun check_overrun did not fix: the wire
			// ordering contract cannot be honored, so the simulation
			// ends rather than emitting an out-of-window timestamp.
			ctx.ended.Store(true)
			msg.release()
			return
		}
		ctx.sendFinalized(msg, adjusted)
	})
}

func (ctx *Context) flushUpcoming() {
	if ctx.ended.Load() {
		for _, msg := range ctx.upcoming {
			msg.release()
		}
		ctx.upcoming = nil
		return
	}

	next := ctx.backend.NextDeadline()
	i := 0
	for ; i < len(ctx.upcoming); i++ {
		msg := ctx.upcoming[i]
		if msg.sendTime > next {
			break
		}
		ctx.sendFinalized(msg, msg.sendTime)
	}
	ctx.upcoming = ctx.upcoming[i:]
}

func (ctx *Context) sendFinalized(msg *outboundMsg, sendTime time.Duration) {
	defer msg.release()
	err := ctx.conn.Send(wire.SendPacketMessage(ctx.cfg.Address, msg.dst, sendTime, msg.payload()))
	if err != nil {
		ctx.logger.Warn("send SendPacket failed, ending simulation", zap.Error(err))
		ctx.ended.Store(true)
	}
}

func (ctx *Context) readUntilSliceEnds() {
	wasEmpty := ctx.inbound.IsEmpty()
	becameNonEmpty := false

	for {
		msg, buf, err := ctx.conn.Recv()
		if err != nil {
			ctx.logger.Warn("recv failed, ending simulation", zap.Error(err))
			ctx.ended.Store(true)
			return
		}

		switch msg.Tag {
		case wire.FromActorDeliverPacket:
			pkt := &inboundPacket{src: msg.Metadata.Src, dst: msg.Metadata.Dst, buf: buf}
			if err := ctx.inbound.Push(pkt); err != nil {
				ctx.logger.Warn("inbound queue full, dropping packet")
				buf.Release()
			} else if wasEmpty {
				becameNonEmpty = true
			}

		case wire.FromActorGotoDeadline:
			buf.Release()
			deadline := msg.Deadline.Duration()
			if err := ctx.backend.SetNextDeadline(deadline); err != nil {
				ctx.logger.Warn("set next deadline failed, ending simulation", zap.Error(err))
				ctx.ended.Store(true)
				return
			}
			ctx.notifyRecv(wasEmpty, becameNonEmpty)
			if ctx.deadlineCallback != nil {
				ctx.deadlineCallback(deadline)
			}
			return

		case wire.FromActorEndSimulation:
			buf.Release()
			ctx.ended.Store(true)
			ctx.notifyRecv(wasEmpty, becameNonEmpty)
			return

		default:
			buf.Release()
			ctx.ended.Store(true)
			return
		}
	}
}

func (ctx *Context) notifyRecv(wasEmpty, becameNonEmpty bool) {
	if wasEmpty && becameNonEmpty && ctx.recvCallback != nil {
		ctx.recvCallback()
	}
}

// Send paces, copies, and enqueues a packet for the deadline handler to
// flush on the wire. Uplink pacing may delay the calling goroutine.
func (ctx *Context) Send(dst wire.Addr, payload []byte) error {
	if len(payload) > wire.MaxPacketSize {
		return newError(KindSizeTooBig, nil)
	}

	sendTime := ctx.backend.SimulationNow()

	ctx.lastSendMu.Lock()
	floor := ctx.lastSend.sendTime + paceDuration(uint64(ctx.lastSend.size)+ctx.cfg.UplinkOverhead, ctx.cfg.UplinkBandwidth)
	delayedCount := ctx.lastSend.delayedCount
	ctx.lastSendMu.Unlock()

	if sendTime < floor {
		ctx.backend.Delay(floor - sendTime)
		sendTime = floor
		delayedCount++
	}

	ctx.lastSendMu.Lock()
	ctx.lastSend = lastSendRecord{size: len(payload), sendTime: sendTime, delayedCount: delayedCount}
	ctx.lastSendMu.Unlock()

	buf, err := ctx.outputPool.Allocate(len(payload))
	if err != nil {
		return wrapErr(err)
	}
	buf.Value().CopyFrom(payload)

	if err := ctx.outbound.Insert(&outboundMsg{dst: dst, sendTime: sendTime, buf: buf}); err != nil {
		buf.Release()
		return wrapErr(err)
	}
	return nil
}

// paceDuration returns the transmission time, at bandwidthBitsPerSec, of a
// frame of the given byte size.
func paceDuration(bytes, bandwidthBitsPerSec uint64) time.Duration {
	if bandwidthBitsPerSec == 0 {
		return 0
	}
	return time.Duration(bytes * 8 * uint64(time.Second) / bandwidthBitsPerSec)
}

// Recv pops one packet from the inbound queue into buf, returning its
// source and destination addresses and the number of bytes written.
// KindSizeTooBig is returned if buf is shorter than the payload; that
// packet has already been popped and is discarded. KindNoMessageAvailable
// is returned if the queue is empty.
func (ctx *Context) Recv(buf []byte) (src, dst wire.Addr, n int, err error) {
	pkt, perr := ctx.inbound.Pop()
	if perr != nil {
		return 0, 0, 0, wrapErr(perr)
	}
	payload := pkt.payload()
	if len(payload) > len(buf) {
		pkt.release()
		return 0, 0, 0, newError(KindSizeTooBig, nil)
	}
	n = copy(buf, payload)
	src, dst = pkt.src, pkt.dst
	pkt.release()
	return src, dst, n, nil
}

// Poll reports whether the inbound queue currently holds at least one
// packet.
func (ctx *Context) Poll() bool {
	return !ctx.inbound.IsEmpty()
}

// GetTimeOfDay returns the application's current wall-clock view as
// {tv_sec, tv_usec}, per the back-end's ApplicationNow.
func (ctx *Context) GetTimeOfDay() (sec int64, usec int64) {
	t := ctx.backend.ApplicationNow()
	return t.Unix(), int64(t.Nanosecond()) / 1000
}
