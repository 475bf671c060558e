// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package client

import (
	"errors"
	"fmt"

	"github.com/tansiv/client-go/internal/bufpool"
	"github.com/tansiv/client-go/internal/lfq"
	"github.com/tansiv/client-go/internal/outputset"
	"github.com/tansiv/client-go/internal/wire"
)

// Kind identifies the semantic category of an Error, independent of any
// wrapped cause.
type Kind int

const (
	_ Kind = iota
	// KindAlreadyStarted: Start was called more than once on the same
	// Context.
	KindAlreadyStarted
	// KindNoMemoryAvailable: a buffer pool or the output set was
	// exhausted.
	KindNoMemoryAvailable
	// KindNoMessageAvailable: Recv was called on an empty inbound queue.
	KindNoMessageAvailable
	// KindProtocolViolation: the actor's first message was not
	// GotoDeadline, or a wire message's tag was absent or unknown.
	KindProtocolViolation
	// KindSizeTooBig: a payload exceeded wire.MaxPacketSize, or a Recv
	// destination buffer was shorter than the received payload.
	KindSizeTooBig
	// KindFlowControlLimited: reserved for uplink-pacing rejection; the
	// current design always paces via delay rather than rejecting, but
	// the code is retained for callers that want to distinguish it.
	KindFlowControlLimited
	// KindIO: any transport-level failure.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindAlreadyStarted:
		return "already started"
	case KindNoMemoryAvailable:
		return "no memory available"
	case KindNoMessageAvailable:
		return "no message available"
	case KindProtocolViolation:
		return "protocol violation"
	case KindSizeTooBig:
		return "size too big"
	case KindFlowControlLimited:
		return "flow control limited"
	case KindIO:
		return "io error"
	default:
		return "unknown error"
	}
}

// Error is the typed error every public operation returns. The Kind
// identifies the semantic category; Err, when non-nil, is the underlying
// cause (e.g. a transport error for KindIO).
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tansiv: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("tansiv: %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err (or anything it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

func newError(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

// wrapErr maps errors surfaced by the internal packages onto the public
// Kind taxonomy, mirroring the From<X> conversions the original
// implementation applies at its crate boundary.
func wrapErr(err error) *Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, bufpool.ErrNoBufferAvailable):
		return newError(KindNoMemoryAvailable, err)
	case errors.Is(err, bufpool.ErrSizeTooBig):
		return newError(KindSizeTooBig, err)
	case errors.Is(err, outputset.ErrNoSlotAvailable):
		return newError(KindNoMemoryAvailable, err)
	case errors.Is(err, lfq.ErrWouldBlock):
		return newError(KindNoMessageAvailable, err)
	case errors.Is(err, wire.ErrProtocolViolation), errors.Is(err, wire.ErrTimeOutOfBounds):
		return newError(KindProtocolViolation, err)
	case errors.Is(err, wire.ErrSizeTooBig):
		return newError(KindSizeTooBig, err)
	case errors.Is(err, wire.ErrNoBufferAvailable):
		return newError(KindNoMemoryAvailable, err)
	default:
		return newError(KindIO, err)
	}
}
