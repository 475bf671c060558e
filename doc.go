// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package client implements the guest-side protocol of the VSG (virtual
// simulation gateway) deadline-driven network co-simulation: a Context
// exchanges framed messages with an external actor process over a UNIX
// socket, executing application code in lock-step time slices bounded by
// deadlines the actor assigns.
//
// # Quick Start
//
//	cfg := client.DefaultConfig()
//	cfg.ActorSocket = "/run/vsg/actor.sock"
//	cfg.Address = wire.Addr(0x0a000001)
//	cfg.UplinkBandwidth = 1_000_000_000 // 1 Gbps
//
//	ctx, err := client.New(cfg,
//		func() { /* inbound queue became non-empty */ },
//		func(next time.Duration) { /* new deadline established */ },
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ctx.Stop()
//
//	offset, err := ctx.Start()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Sending and Receiving
//
// Send enqueues a packet for the deadline handler to flush on the wire,
// pacing the calling goroutine against the configured uplink bandwidth:
//
//	if err := ctx.Send(dstAddr, payload); err != nil {
//		if client.Is(err, client.KindSizeTooBig) {
//			// payload exceeds the wire's maximum packet size
//		}
//	}
//
// Recv and Poll observe the inbound queue the deadline handler fills as
// DeliverPacket messages arrive from the actor:
//
//	if ctx.Poll() {
//		buf := make([]byte, 1500)
//		src, dst, n, err := ctx.Recv(buf)
//	}
//
// # Timer Back-ends
//
// New always arms the process back-end: a timerfd watched through epoll on
// a dedicated goroutine, suitable for any ordinary Linux process. The other
// four back-ends described by the design — QEMU, QEMU+KVM, Xen, and Docker
// — each need a host-specific capability this package cannot obtain on its
// own (a QEMU clock callback, a kernel module's shared page, a hypervisor
// page, a container stopper socket). Callers running under one of those
// hosts construct the capability themselves and pass a factory to
// NewWithBackend:
//
//	ctx, err := client.NewWithBackend(cfg, onRecv, onDeadline,
//		func(h timer.Handler) timer.Backend {
//			return kvm.New(h, myDevice, tscFreqHz, cfg.TimeOffset)
//		})
//
// # Error Handling
//
// Every public operation returns *Error, a typed wrapper carrying a Kind
// drawn from a small, stable taxonomy (KindSizeTooBig,
// KindNoMessageAvailable, KindProtocolViolation, and so on). Use [Is] to
// classify an error without depending on its wrapped cause:
//
//	if client.Is(err, client.KindNoMessageAvailable) {
//		// inbound queue was empty; try again after Poll reports true
//	}
//
// # Dependencies
//
// Internally, this package builds on [code.hybscloud.com/atomix] for
// explicit-memory-ordering atomics, [code.hybscloud.com/spin] for
// CPU-pause spin-waiting, and golang.org/x/sys/unix for the process
// back-end's timerfd and epoll calls. Structured logging uses
// go.uber.org/zap.
package client
