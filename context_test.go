// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package client

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/tansiv/client-go/internal/bufpool"
	"github.com/tansiv/client-go/internal/timer"
	"github.com/tansiv/client-go/internal/wire"
)

// fakeBackend is a timer.Backend double driven directly by the test instead
// of a real clock, so AtDeadline's wire behavior can be checked without
// waiting on actual timer callbacks.
type fakeBackend struct {
	mu         sync.Mutex
	startCount int
	stopped    bool
	prev, next time.Duration
	simNow     time.Duration
	appNow     time.Time
}

func (b *fakeBackend) Start(first time.Duration) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startCount++
	b.next = first
	return 0, nil
}

func (b *fakeBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	return nil
}

func (b *fakeBackend) SetNextDeadline(d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prev = b.next
	b.next = d
	return nil
}

func (b *fakeBackend) SimulationNow() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.simNow
}

func (b *fakeBackend) ApplicationNow() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appNow
}

func (b *fakeBackend) PreviousDeadline() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prev
}

func (b *fakeBackend) NextDeadline() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

func (b *fakeBackend) ConvertTimestamp(t time.Duration) time.Duration { return t }
func (b *fakeBackend) Delay(time.Duration)                            {}

var _ timer.Backend = (*fakeBackend)(nil)

// --- raw frame helpers, mirroring the actor side of the protocol the way
// internal/wire's own connector tests build frames by hand. ---

func writeFrame(w io.Writer, body []byte) error {
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func gotoDeadlineFrame(d time.Duration) []byte {
	body := make([]byte, 17)
	body[0] = byte(wire.FromActorGotoDeadline)
	binary.LittleEndian.PutUint64(body[1:9], uint64(d/time.Second))
	binary.LittleEndian.PutUint64(body[9:17], uint64((d%time.Second)/time.Microsecond))
	return body
}

func endSimulationFrame() []byte {
	return []byte{byte(wire.FromActorEndSimulation)}
}

func deliverPacketFrame(src, dst wire.Addr, payload []byte) []byte {
	body := make([]byte, 13+len(payload))
	body[0] = byte(wire.FromActorDeliverPacket)
	binary.LittleEndian.PutUint32(body[1:5], uint32(src))
	binary.LittleEndian.PutUint32(body[5:9], uint32(dst))
	binary.LittleEndian.PutUint32(body[9:13], uint32(len(payload)))
	copy(body[13:], payload)
	return body
}

// testHarness bundles a Context wired to one end of a net.Pipe with the raw
// net.Conn for the other end, standing in for the actor.
type testHarness struct {
	ctx     *Context
	backend *fakeBackend
	actor   net.Conn

	mu             sync.Mutex
	deadlineCalls  []time.Duration
	recvCallbacks  int
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	guestConn, actorConn := net.Pipe()
	t.Cleanup(func() {
		guestConn.Close()
		actorConn.Close()
	})

	inputPool := bufpool.NewBytesBufferPool(wire.MaxPacketSize, 8)
	conn := wire.New(guestConn, inputPool)

	h := &testHarness{actor: actorConn, backend: &fakeBackend{}}

	cfg := Config{
		ActorSocket:     "unused",
		Address:         wire.Addr(1),
		QueueSize:       8,
		UplinkBandwidth: 8_000_000,
		NumBuffers:      8,
	}

	ctx, err := newContextFromConnector(cfg, conn, inputPool,
		func() {
			h.mu.Lock()
			h.recvCallbacks++
			h.mu.Unlock()
		},
		func(d time.Duration) {
			h.mu.Lock()
			h.deadlineCalls = append(h.deadlineCalls, d)
			h.mu.Unlock()
		},
	)
	if err != nil {
		t.Fatalf("newContextFromConnector: %v", err)
	}
	ctx.backend = h.backend
	h.ctx = ctx
	return h
}

func TestContextStartReadsFirstGotoDeadline(t *testing.T) {
	h := newTestHarness(t)

	go func() {
		writeFrame(h.actor, gotoDeadlineFrame(100*time.Millisecond))
	}()

	offset, err := h.ctx.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if offset != 0 {
		t.Fatalf("offset = %v, want 0", offset)
	}
	if h.backend.startCount != 1 {
		t.Fatalf("backend started %d times, want 1", h.backend.startCount)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.deadlineCalls) != 1 || h.deadlineCalls[0] != 100*time.Millisecond {
		t.Fatalf("deadline callbacks = %v, want [100ms]", h.deadlineCalls)
	}
}

func TestContextStartTwiceReturnsAlreadyStarted(t *testing.T) {
	h := newTestHarness(t)

	go writeFrame(h.actor, gotoDeadlineFrame(time.Second))
	if _, err := h.ctx.Start(); err != nil {
		t.Fatalf("first start: %v", err)
	}

	if _, err := h.ctx.Start(); !Is(err, KindAlreadyStarted) {
		t.Fatalf("second start = %v, want KindAlreadyStarted", err)
	}
}

func TestContextStartRejectsWrongFirstMessage(t *testing.T) {
	h := newTestHarness(t)

	go writeFrame(h.actor, deliverPacketFrame(1, 2, []byte("x")))

	if _, err := h.ctx.Start(); !Is(err, KindProtocolViolation) {
		t.Fatalf("start = %v, want KindProtocolViolation", err)
	}

	// A failed Start still leaves the Context in a state Stop can clean up.
	if err := h.ctx.Stop(); err != nil {
		t.Fatalf("stop after failed start: %v", err)
	}
	if !h.backend.stopped {
		t.Fatal("backend was not stopped")
	}
}

func TestContextSendRejectsOversizedPayload(t *testing.T) {
	h := newTestHarness(t)
	h.backend.next = time.Second

	big := make([]byte, wire.MaxPacketSize+1)
	if err := h.ctx.Send(2, big); !Is(err, KindSizeTooBig) {
		t.Fatalf("send oversized = %v, want KindSizeTooBig", err)
	}

	small := []byte("hello")
	if err := h.ctx.Send(2, small); err != nil {
		t.Fatalf("send small after rejecting big one: %v", err)
	}
}

func TestContextAtDeadlineFlushesOutboundAndDeliversInbound(t *testing.T) {
	h := newTestHarness(t)
	h.backend.next = 100 * time.Millisecond

	payloadOut := []byte("outbound")
	if err := h.ctx.Send(wire.Addr(2), payloadOut); err != nil {
		t.Fatalf("send: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.ctx.AtDeadline()
	}()

	sendFrame, err := readFrame(h.actor)
	if err != nil {
		t.Fatalf("read send-packet frame: %v", err)
	}
	if wire.ToActorTag(sendFrame[0]) != wire.ToActorSendPacket {
		t.Fatalf("tag = %d, want SendPacket", sendFrame[0])
	}
	gotPayload := sendFrame[1+28:]
	if string(gotPayload) != string(payloadOut) {
		t.Fatalf("payload = %q, want %q", gotPayload, payloadOut)
	}

	atDeadlineFrame, err := readFrame(h.actor)
	if err != nil {
		t.Fatalf("read at-deadline frame: %v", err)
	}
	if wire.ToActorTag(atDeadlineFrame[0]) != wire.ToActorAtDeadline {
		t.Fatalf("tag = %d, want AtDeadline", atDeadlineFrame[0])
	}

	payloadIn := []byte("inbound")
	if err := writeFrame(h.actor, deliverPacketFrame(5, 6, payloadIn)); err != nil {
		t.Fatalf("write deliver-packet frame: %v", err)
	}
	if err := writeFrame(h.actor, gotoDeadlineFrame(200*time.Millisecond)); err != nil {
		t.Fatalf("write goto-deadline frame: %v", err)
	}

	wg.Wait()

	if !h.ctx.Poll() {
		t.Fatal("expected a packet to be queued after AtDeadline")
	}
	buf := make([]byte, 64)
	src, dst, n, err := h.ctx.Recv(buf)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if src != 5 || dst != 6 || string(buf[:n]) != string(payloadIn) {
		t.Fatalf("recv = (%d, %d, %q), want (5, 6, %q)", src, dst, buf[:n], payloadIn)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.recvCallbacks != 1 {
		t.Fatalf("recv callbacks = %d, want 1", h.recvCallbacks)
	}
	if len(h.deadlineCalls) != 1 || h.deadlineCalls[0] != 200*time.Millisecond {
		t.Fatalf("deadline callbacks = %v, want [200ms]", h.deadlineCalls)
	}
}

func TestContextAtDeadlineEndsSimulationOnEndSimulationMessage(t *testing.T) {
	h := newTestHarness(t)
	h.backend.next = time.Second

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.ctx.AtDeadline()
	}()

	if _, err := readFrame(h.actor); err != nil {
		t.Fatalf("read at-deadline frame: %v", err)
	}
	if err := writeFrame(h.actor, endSimulationFrame()); err != nil {
		t.Fatalf("write end-simulation frame: %v", err)
	}
	wg.Wait()

	if !h.ctx.Finished() {
		t.Fatal("expected Context.Finished() after EndSimulation")
	}
	if timer.ShouldRearm(h.ctx) {
		t.Fatal("ShouldRearm should report false once the simulation has ended")
	}
}

func TestContextPollReportsEmptyQueue(t *testing.T) {
	h := newTestHarness(t)
	if h.ctx.Poll() {
		t.Fatal("expected empty inbound queue on a fresh Context")
	}
	var buf [16]byte
	if _, _, _, err := h.ctx.Recv(buf[:]); !Is(err, KindNoMessageAvailable) {
		t.Fatalf("recv on empty queue = %v, want KindNoMessageAvailable", err)
	}
}
