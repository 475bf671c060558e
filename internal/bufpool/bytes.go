// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufpool

// BytesBuffer is a reusable, fixed-capacity byte buffer: the Resettable
// element type backing the pools of raw packet payloads (inbound Recv
// buffers and outbound Send staging buffers).
type BytesBuffer struct {
	data []byte
	n    int
}

// Reset truncates the buffer to empty and grows its backing array if needed
// to hold at least capacity bytes.
func (b *BytesBuffer) Reset(capacity int) {
	if cap(b.data) < capacity {
		b.data = make([]byte, capacity)
	}
	b.n = 0
}

// Bytes returns the buffer's current content.
func (b *BytesBuffer) Bytes() []byte {
	return b.data[:b.n]
}

// Len returns the number of bytes currently held.
func (b *BytesBuffer) Len() int {
	return b.n
}

// SetLen sets the logical length of the buffer's content. n must not exceed
// the backing array's capacity.
func (b *BytesBuffer) SetLen(n int) {
	b.n = n
}

// CopyFrom overwrites the buffer's content with src, growing the backing
// array if src does not fit.
func (b *BytesBuffer) CopyFrom(src []byte) {
	if cap(b.data) < len(src) {
		b.data = make([]byte, len(src))
	}
	copy(b.data[:len(src)], src)
	b.n = len(src)
}

// NewBytesBufferPool builds a Pool of BytesBuffer slots of the given
// capacity, matching the Rust construction `BufferPool::<Vec<u8>>::new`.
func NewBytesBufferPool(bufferSize, numBuffers int) *Pool[*BytesBuffer] {
	return New(bufferSize, numBuffers, func() *BytesBuffer {
		return &BytesBuffer{data: make([]byte, bufferSize)}
	})
}
