// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import "time"

// SendPacketMessage builds the ToActor value for a finalized outbound packet.
func SendPacketMessage(src, dst Addr, sendTime time.Duration, payload []byte) ToActor {
	return ToActor{
		Tag:      ToActorSendPacket,
		Metadata: PacketMetadata{Src: src, Dst: dst},
		SendTime: TimeFromDuration(sendTime),
		Payload:  payload,
	}
}

// AtDeadlineMessage builds the ToActor value announcing the guest has
// reached its deadline.
func AtDeadlineMessage() ToActor {
	return ToActor{Tag: ToActorAtDeadline}
}
