// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package outputset_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/tansiv/client-go/internal/outputset"
)

func TestSetInsertAndDrain(t *testing.T) {
	s := outputset.New[int](4)
	for i := 1; i <= 4; i++ {
		if err := s.Insert(i); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := s.Insert(99); !errors.Is(err, outputset.ErrNoSlotAvailable) {
		t.Fatalf("insert into full set: got %v, want ErrNoSlotAvailable", err)
	}

	var drained []int
	s.Drain(func(v int) { drained = append(drained, v) })
	if len(drained) != 4 {
		t.Fatalf("drained %d values, want 4", len(drained))
	}

	// After drain all slots are free again.
	for i := 1; i <= 4; i++ {
		if err := s.Insert(i); err != nil {
			t.Fatalf("re-insert %d after drain: %v", i, err)
		}
	}
}

func TestSetDrainSkipsEmptySlots(t *testing.T) {
	s := outputset.New[int](4)
	if err := s.Insert(7); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var drained []int
	s.Drain(func(v int) { drained = append(drained, v) })
	if len(drained) != 1 || drained[0] != 7 {
		t.Fatalf("drained = %v, want [7]", drained)
	}
	// Draining an otherwise-empty set yields nothing further.
	drained = nil
	s.Drain(func(v int) { drained = append(drained, v) })
	if len(drained) != 0 {
		t.Fatalf("second drain yielded %v, want none", drained)
	}
}

func TestSetConcurrentInsertersSingleDrainer(t *testing.T) {
	const writers = 8
	const perWriter = 100
	s := outputset.New[int](writers * perWriter)

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := range writers {
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				for s.Insert(w*perWriter+i) != nil {
				}
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[int]bool)
	s.Drain(func(v int) { seen[v] = true })
	if len(seen) != writers*perWriter {
		t.Fatalf("drained %d distinct values, want %d", len(seen), writers*perWriter)
	}
}
