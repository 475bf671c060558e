// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"errors"
)

// MaxPacketSize bounds any single payload, inbound or outbound.
const MaxPacketSize = 1 << 16

// ErrProtocolViolation indicates a tagged-union tag was absent or unknown,
// or a variant's required fields were missing.
var ErrProtocolViolation = errors.New("wire: protocol violation")

// ErrTimeOutOfBounds indicates a GotoDeadline's microseconds field was
// >= 1_000_000.
var ErrTimeOutOfBounds = errors.New("wire: time out of bounds")

// ErrSizeTooBig indicates a frame length exceeded MaxPacketSize.
var ErrSizeTooBig = errors.New("wire: size too big")

// LengthPrefixSize is the size in bytes of the framing length prefix.
const LengthPrefixSize = 4

// PutLengthPrefix writes n as a little-endian u32 into buf[:4].
func PutLengthPrefix(buf []byte, n uint32) {
	binary.LittleEndian.PutUint32(buf, n)
}

// LengthPrefix reads a little-endian u32 from buf[:4].
func LengthPrefix(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

// DecodeFromActor parses a FromActor tagged union from the message body
// (the bytes following the length prefix). GotoDeadline's microseconds
// field is validated to be < 1_000_000.
func DecodeFromActor(body []byte) (FromActor, error) {
	if len(body) < 1 {
		return FromActor{}, ErrProtocolViolation
	}
	tag := FromActorTag(body[0])
	rest := body[1:]

	switch tag {
	case FromActorEndSimulation:
		return FromActor{Tag: tag}, nil

	case FromActorGotoDeadline:
		if len(rest) < 16 {
			return FromActor{}, ErrProtocolViolation
		}
		sec := binary.LittleEndian.Uint64(rest[0:8])
		usec := binary.LittleEndian.Uint64(rest[8:16])
		if usec >= 1_000_000 {
			return FromActor{}, ErrTimeOutOfBounds
		}
		return FromActor{Tag: tag, Deadline: Time{Seconds: sec, Microseconds: usec}}, nil

	case FromActorDeliverPacket:
		if len(rest) < 12 {
			return FromActor{}, ErrProtocolViolation
		}
		src := Addr(binary.LittleEndian.Uint32(rest[0:4]))
		dst := Addr(binary.LittleEndian.Uint32(rest[4:8]))
		plen := binary.LittleEndian.Uint32(rest[8:12])
		rest = rest[12:]
		if uint64(plen) > MaxPacketSize || uint64(plen) > uint64(len(rest)) {
			return FromActor{}, ErrProtocolViolation
		}
		// Payload aliases body: the caller retains body's backing buffer
		// (leased from the inbound pool) for as long as the returned
		// FromActor is in use, per the zero-copy retention contract.
		return FromActor{
			Tag:      tag,
			Metadata: PacketMetadata{Src: src, Dst: dst},
			Payload:  rest[:plen:plen],
		}, nil

	default:
		return FromActor{}, ErrProtocolViolation
	}
}

// EncodeToActor appends msg's tagged-union encoding (without the length
// prefix) to dst and returns the extended slice.
func EncodeToActor(dst []byte, msg ToActor) []byte {
	dst = append(dst, byte(msg.Tag))
	switch msg.Tag {
	case ToActorAtDeadline:
		return dst

	case ToActorSendPacket:
		var hdr [4 + 4 + 8 + 8 + 4]byte
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(msg.Metadata.Src))
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(msg.Metadata.Dst))
		binary.LittleEndian.PutUint64(hdr[8:16], msg.SendTime.Seconds)
		binary.LittleEndian.PutUint64(hdr[16:24], msg.SendTime.Microseconds)
		binary.LittleEndian.PutUint32(hdr[24:28], uint32(len(msg.Payload)))
		dst = append(dst, hdr[:]...)
		dst = append(dst, msg.Payload...)
		return dst

	default:
		return dst
	}
}
