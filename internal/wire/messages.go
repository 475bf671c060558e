// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the VSG wire protocol: the length-prefixed,
// tagged-union framing exchanged with the actor over a UNIX stream socket,
// and the Connector that drives it. The packet schema itself (the
// FlatBuffers-like tagged union on the wire) is treated as an external
// input per the core's scope, so this package hand-rolls a minimal codec
// for exactly the messages the protocol defines rather than depending on a
// generated schema compiler it has no access to.
package wire

import "time"

// Addr is a network address carried on the wire as a u32 network-byte-order
// IPv4 value.
type Addr uint32

// Time is the wire time encoding: seconds and microseconds, with
// Microseconds required to be < 1_000_000.
type Time struct {
	Seconds      uint64
	Microseconds uint64
}

// Duration converts the wire time to a nanosecond-precision duration.
func (t Time) Duration() time.Duration {
	return time.Duration(t.Seconds)*time.Second + time.Duration(t.Microseconds)*time.Microsecond
}

// TimeFromDuration converts a nanosecond-precision duration to the wire
// time encoding.
func TimeFromDuration(d time.Duration) Time {
	return Time{
		Seconds:      uint64(d / time.Second),
		Microseconds: uint64((d % time.Second) / time.Microsecond),
	}
}

// FromActorTag identifies the variant of a FromActor message.
type FromActorTag uint8

const (
	// FromActorDeliverPacket carries an inbound packet from the actor.
	FromActorDeliverPacket FromActorTag = iota + 1
	// FromActorGotoDeadline schedules the next deadline.
	FromActorGotoDeadline
	// FromActorEndSimulation terminates the simulation.
	FromActorEndSimulation
)

// ToActorTag identifies the variant of a ToActor message.
type ToActorTag uint8

const (
	// ToActorAtDeadline announces the guest has reached its deadline.
	ToActorAtDeadline ToActorTag = iota + 1
	// ToActorSendPacket carries an outbound packet to the actor.
	ToActorSendPacket
)

// PacketMetadata carries the source and destination addresses common to
// both DeliverPacket and SendPacket.
type PacketMetadata struct {
	Src Addr
	Dst Addr
}

// FromActor is the decoded union of messages the actor sends to the guest.
type FromActor struct {
	Tag      FromActorTag
	Metadata PacketMetadata // DeliverPacket only
	Payload  []byte         // DeliverPacket only
	Deadline Time           // GotoDeadline only
}

// ToActor is the union of messages the guest sends to the actor.
type ToActor struct {
	Tag      ToActorTag
	Metadata PacketMetadata // SendPacket only
	SendTime Time           // SendPacket only
	Payload  []byte         // SendPacket only
}
