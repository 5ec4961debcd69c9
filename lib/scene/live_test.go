// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"fmt"
	"sync"
	"testing"
)

func TestLiveMergeScenario(t *testing.T) {
	surface := NewMemory([]Element{el("x", 3, 1)})
	live := NewLive(surface)

	merged := live.Merge([]Element{el("x", 5, 1), el("y", 1, 1)})
	if got := sortedSummary(merged); got != "[x@5/1 y@1/1]" {
		t.Fatalf("merged = %s", got)
	}
	if got := sortedSummary(surface.Elements()); got != "[x@5/1 y@1/1]" {
		t.Fatalf("surface = %s", got)
	}
}

func TestLiveConcurrentMergesKeepEveryElement(t *testing.T) {
	surface := NewMemory(nil)
	live := NewLive(surface)

	var wg sync.WaitGroup
	for worker := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				live.Merge([]Element{el(fmt.Sprintf("w%d-%d", worker, i), 1, 0)})
			}
		}()
	}
	wg.Wait()

	if got := len(live.Elements()); got != 200 {
		t.Fatalf("surface holds %d elements, want 200", got)
	}
}

func TestMemoryEdits(t *testing.T) {
	surface := NewMemory(nil)
	var applied int
	surface.OnApply(func([]Element) { applied++ })

	surface.Upsert("a", []byte(`{"type":"text"}`))
	elements := surface.Upsert("a", []byte(`{"type":"text","text":"hi"}`))
	if len(elements) != 1 || elements[0].Version != 2 {
		t.Fatalf("after two edits: %+v", elements)
	}
	elements, ok := surface.Delete("a")
	if !ok || !elements[0].IsDeleted || elements[0].Version != 3 {
		t.Fatalf("after delete: %+v", elements)
	}
	if _, ok := surface.Delete("missing"); ok {
		t.Error("Delete reported success for an unknown id")
	}

	NewLive(surface).Merge([]Element{el("b", 1, 0)})
	if applied != 1 {
		t.Errorf("OnApply ran %d times, want 1", applied)
	}
}
