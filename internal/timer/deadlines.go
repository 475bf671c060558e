// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timer

import (
	"time"

	"code.hybscloud.com/atomix"
)

// Deadlines holds the prev/next-deadline pair common to every back-end.
// Stored as nanosecond counts in atomix words so SimulationNow-style reads
// from application goroutines never race with a concurrent SetNextDeadline
// from the deadline handler.
type Deadlines struct {
	prev atomix.Uint64
	next atomix.Uint64
}

// Advance moves Previous to the current Next and sets Next to d.
func (dl *Deadlines) Advance(d time.Duration) {
	dl.prev.StoreRelease(dl.next.LoadAcquire())
	dl.next.StoreRelease(uint64(d))
}

// Previous returns the previous deadline.
func (dl *Deadlines) Previous() time.Duration {
	return time.Duration(dl.prev.LoadAcquire())
}

// Next returns the next deadline.
func (dl *Deadlines) Next() time.Duration {
	return time.Duration(dl.next.LoadAcquire())
}
