// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfq

import "code.hybscloud.com/iox"

// ErrWouldBlock indicates Push or Pop cannot proceed immediately: the queue
// is full (Push) or empty (Pop). It is a control-flow signal, not a failure
// — the root package's wrapErr maps it onto KindNoMessageAvailable rather
// than propagating it as a transport error, and Context's deadline handler
// drops the packet when Push reports it rather than retrying in a spin.
//
// ErrWouldBlock is an alias for [iox.ErrWouldBlock] for ecosystem
// consistency; errors.Is(err, lfq.ErrWouldBlock) is the intended check.
var ErrWouldBlock = iox.ErrWouldBlock
