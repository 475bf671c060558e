// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package client

import (
	"fmt"
	"time"

	"github.com/tansiv/client-go/internal/wire"
)

// BackendKind selects which TimerContext back-end a Config arms.
type BackendKind int

const (
	// BackendProcess runs as an ordinary process, using a timerfd watched
	// through epoll on a dedicated goroutine.
	BackendProcess BackendKind = iota
	// BackendQEMU runs as a QEMU guest process, driven by a host-provided
	// virtual-clock timer callback.
	BackendQEMU
	// BackendKVM runs as a QEMU+KVM guest, driven by a host kernel module
	// programming the VMX preemption timer.
	BackendKVM
	// BackendXen runs as a Xen HVM domain, driven by a hypervisor-exposed
	// shared TSC-information page.
	BackendXen
	// BackendDocker runs inside a Docker container, driven by an external
	// stopper process that freezes/thaws the container's cgroup.
	BackendDocker
)

// Config is the validated set of inputs the FFI collaborator gathers from
// argument parsing and hands to Init. Config itself performs no argument
// parsing; assembling one from the command line, environment, or a file is
// entirely the caller's responsibility.
type Config struct {
	// ActorSocket is the UNIX socket path the Connector dials.
	ActorSocket string
	// Address is this context's local IPv4 address, network byte order,
	// set as the source on outgoing packets.
	Address wire.Addr
	// QueueSize bounds the inbound queue; must be non-zero.
	QueueSize int
	// UplinkBandwidth is the pacing rate in bits/s; must be non-zero.
	UplinkBandwidth uint64
	// UplinkOverhead is the per-packet byte overhead added to pacing
	// accounting.
	UplinkOverhead uint64
	// TimeOffset is the initial wall-clock epoch gettimeofday is relative
	// to.
	TimeOffset time.Duration
	// NumBuffers sizes the input pool, output pool, and output set
	// uniformly.
	NumBuffers int
	// Backend selects the TimerContext implementation.
	Backend BackendKind
	// DockerSequenceNumber uniquely identifies this instance; only
	// meaningful when Backend == BackendDocker.
	DockerSequenceNumber uint32
	// DockerContainerID names the cgroup the Docker stopper manages;
	// only meaningful when Backend == BackendDocker.
	DockerContainerID string
}

// Validate checks the invariants Init requires before constructing a
// Context, returning a *Error of KindProtocolViolation describing the first
// violation found.
func (c Config) Validate() error {
	if c.ActorSocket == "" {
		return newError(KindProtocolViolation, fmt.Errorf("actor socket path is required"))
	}
	if c.QueueSize <= 0 {
		return newError(KindProtocolViolation, fmt.Errorf("queue_size must be non-zero"))
	}
	if c.UplinkBandwidth == 0 {
		return newError(KindProtocolViolation, fmt.Errorf("uplink_bandwidth must be non-zero"))
	}
	if c.NumBuffers <= 0 {
		return newError(KindProtocolViolation, fmt.Errorf("num_buffers must be non-zero"))
	}
	if c.Backend == BackendDocker && c.DockerContainerID == "" {
		return newError(KindProtocolViolation, fmt.Errorf("docker_container_id is required for the docker backend"))
	}
	return nil
}

// defaultNumBuffers matches the original implementation's default pool
// size when a caller does not override it.
const defaultNumBuffers = 100

// DefaultConfig returns a Config with the same defaults the original
// implementation's argument parser applied, for callers that only need to
// override a few fields.
func DefaultConfig() Config {
	return Config{
		QueueSize:  defaultNumBuffers,
		NumBuffers: defaultNumBuffers,
		Backend:    BackendProcess,
	}
}
