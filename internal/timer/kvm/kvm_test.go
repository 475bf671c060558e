// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvm_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/tansiv/client-go/internal/timer/kvm"
)

type fakeDevice struct {
	page        kvm.SharedPage
	initialized bool
	fire        func()
}

func (d *fakeDevice) SharedPage() *kvm.SharedPage { return &d.page }
func (d *fakeDevice) Initialized() (bool, error)  { return d.initialized, nil }
func (d *fakeDevice) RegisterDeadline(guestTSCTicks uint64, fire func()) error {
	d.fire = fire
	return nil
}

type countingHandler struct {
	calls atomic.Int64
}

func (h *countingHandler) AtDeadline() { h.calls.Add(1) }

func TestKVMBackendRequiresInitializedModule(t *testing.T) {
	dev := &fakeDevice{page: kvm.SharedPage{TSCScalingRatio: 1 << 32}, initialized: false}
	h := &countingHandler{}
	b := kvm.New(h, dev, 1_000_000_000, 0)

	if _, err := b.Start(100 * time.Microsecond); err == nil {
		t.Fatal("expected error starting against an uninitialized module")
	}
}

func TestKVMBackendFiresHandlerOnDeadline(t *testing.T) {
	dev := &fakeDevice{page: kvm.SharedPage{TSCScalingRatio: 1 << 32}, initialized: true}
	h := &countingHandler{}
	b := kvm.New(h, dev, 1_000_000_000, 0)

	if _, err := b.Start(100 * time.Microsecond); err != nil {
		t.Fatalf("start: %v", err)
	}
	if dev.fire == nil {
		t.Fatal("expected RegisterDeadline to capture a fire callback")
	}
	dev.fire()
	if h.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", h.calls.Load())
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
