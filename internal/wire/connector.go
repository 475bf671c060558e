// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"io"
	"net"

	"github.com/tansiv/client-go/internal/bufpool"
)

// ErrNoBufferAvailable surfaces bufpool.ErrNoBufferAvailable at the
// connector boundary so callers of this package do not need to import
// bufpool just to recognize the condition.
var ErrNoBufferAvailable = bufpool.ErrNoBufferAvailable

// Connector drives the framed VSG protocol over a UNIX stream socket. It is
// not safe for concurrent use: the protocol is synchronous and serially
// driven by a single deadline-handling goroutine, so the caller is
// responsible for serializing access (the root package does this with a
// mutex taken only by Start and by its deadline handler).
type Connector struct {
	conn      net.Conn
	inputPool *bufpool.Pool[*bufpool.BytesBuffer]
	lenPrefix [LengthPrefixSize]byte
	writeBuf  []byte
}

// Dial connects to the actor's UNIX socket at path, using inputPool to
// allocate buffers for inbound frames.
func Dial(path string, inputPool *bufpool.Pool[*bufpool.BytesBuffer]) (*Connector, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return New(conn, inputPool), nil
}

// New wraps an already-connected stream with the VSG framing protocol.
func New(conn net.Conn, inputPool *bufpool.Pool[*bufpool.BytesBuffer]) *Connector {
	return &Connector{
		conn:      conn,
		inputPool: inputPool,
		writeBuf:  make([]byte, 0, LengthPrefixSize+256),
	}
}

// Close closes the underlying transport.
func (c *Connector) Close() error {
	return c.conn.Close()
}

// Recv reads one framed FromActor message. The returned Buffer owns the
// frame's backing storage; the caller must Release it once done reading any
// aliased payload bytes out of the returned message.
func (c *Connector) Recv() (FromActor, *bufpool.Buffer[*bufpool.BytesBuffer], error) {
	if _, err := io.ReadFull(c.conn, c.lenPrefix[:]); err != nil {
		return FromActor{}, nil, err
	}
	n := LengthPrefix(c.lenPrefix[:])
	if n > MaxPacketSize {
		return FromActor{}, nil, ErrSizeTooBig
	}

	buf, err := c.inputPool.Allocate(int(n))
	if err != nil {
		return FromActor{}, nil, err
	}
	buf.Value().SetLen(int(n))
	if _, err := io.ReadFull(c.conn, buf.Value().Bytes()); err != nil {
		buf.Release()
		return FromActor{}, nil, err
	}

	msg, err := DecodeFromActor(buf.Value().Bytes())
	if err != nil {
		buf.Release()
		return FromActor{}, nil, err
	}
	return msg, buf, nil
}

// Send finalizes and writes msg as a single framed write.
func (c *Connector) Send(msg ToActor) error {
	c.writeBuf = c.writeBuf[:LengthPrefixSize]
	c.writeBuf = EncodeToActor(c.writeBuf, msg)
	PutLengthPrefix(c.writeBuf, uint32(len(c.writeBuf)-LengthPrefixSize))

	_, err := c.conn.Write(c.writeBuf)
	return err
}
