// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"testing"
)

func el(id string, version, nonce int64) Element {
	return Element{ID: id, Version: version, VersionNonce: nonce}
}

func ids(elements []Element) []string {
	result := make([]string, len(elements))
	for i, element := range elements {
		result[i] = element.ID
	}
	return result
}

func byID(elements []Element) map[string]Element {
	result := make(map[string]Element, len(elements))
	for _, element := range elements {
		result[element.ID] = element
	}
	return result
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name   string
		local  []Element
		remote []Element
		want   []Element
	}{
		{
			name:   "remote newer wins",
			local:  []Element{el("x", 3, 1)},
			remote: []Element{el("x", 5, 1), el("y", 1, 1)},
			want:   []Element{el("x", 5, 1), el("y", 1, 1)},
		},
		{
			name:   "local newer wins",
			local:  []Element{el("x", 7, 9)},
			remote: []Element{el("x", 2, 1)},
			want:   []Element{el("x", 7, 9)},
		},
		{
			name:   "tie resolves to lower nonce from remote",
			local:  []Element{el("x", 4, 20)},
			remote: []Element{el("x", 4, 10)},
			want:   []Element{el("x", 4, 10)},
		},
		{
			name:   "tie resolves to lower nonce from local",
			local:  []Element{el("x", 4, 10)},
			remote: []Element{el("x", 4, 20)},
			want:   []Element{el("x", 4, 10)},
		},
		{
			name:   "local only kept remote only appended",
			local:  []Element{el("a", 1, 1), el("b", 1, 1)},
			remote: []Element{el("c", 1, 1), el("b", 2, 1)},
			want:   []Element{el("a", 1, 1), el("b", 2, 1), el("c", 1, 1)},
		},
		{
			name:   "both empty",
			local:  nil,
			remote: nil,
			want:   []Element{},
		},
		{
			name:   "deleted remote tombstone wins by version",
			local:  []Element{el("x", 1, 1)},
			remote: []Element{{ID: "x", Version: 2, VersionNonce: 1, IsDeleted: true}},
			want:   []Element{{ID: "x", Version: 2, VersionNonce: 1, IsDeleted: true}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(tt.local, tt.remote)
			if len(got) != len(tt.want) {
				t.Fatalf("Reconcile = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i].ID != tt.want[i].ID || got[i].Version != tt.want[i].Version ||
					got[i].VersionNonce != tt.want[i].VersionNonce || got[i].IsDeleted != tt.want[i].IsDeleted {
					t.Errorf("element %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestReconcileDoesNotModifyInputs(t *testing.T) {
	local := []Element{el("x", 1, 1)}
	remote := []Element{el("x", 2, 1)}
	Reconcile(local, remote)
	if local[0].Version != 1 || remote[0].Version != 2 {
		t.Fatal("Reconcile modified its inputs")
	}
}

// randomScene draws elements from a small id space so inputs overlap.
func randomScene(rng *rand.Rand) []Element {
	count := rng.IntN(8)
	seen := make(map[string]bool)
	var elements []Element
	for range count {
		id := fmt.Sprintf("e%d", rng.IntN(10))
		if seen[id] {
			continue
		}
		seen[id] = true
		elements = append(elements, el(id, rng.Int64N(4), rng.Int64N(3)))
	}
	return elements
}

func TestReconcileProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for iteration := range 500 {
		a, b := randomScene(rng), randomScene(rng)
		merged := Reconcile(a, b)

		union := make(map[string]bool)
		for _, element := range append(slices.Clone(a), b...) {
			union[element.ID] = true
		}
		got := ids(merged)
		if len(got) != len(union) {
			t.Fatalf("iteration %d: merged ids %v, want union of %d ids", iteration, got, len(union))
		}
		for _, id := range got {
			if !union[id] {
				t.Fatalf("iteration %d: merged contains unknown id %q", iteration, id)
			}
		}

		// Winner is the max over (version, -nonce).
		aByID, bByID := byID(a), byID(b)
		for _, element := range merged {
			left, inA := aByID[element.ID]
			right, inB := bByID[element.ID]
			if !inA || !inB {
				continue
			}
			winner := left
			if Wins(right, left) {
				winner = right
			}
			if element.Version != winner.Version || element.VersionNonce != winner.VersionNonce {
				t.Fatalf("iteration %d: id %q merged to %+v, want %+v", iteration, element.ID, element, winner)
			}
		}

		again := Reconcile(merged, b)
		if fmt.Sprint(again) != fmt.Sprint(merged) {
			t.Fatalf("iteration %d: not idempotent:\n%v\n%v", iteration, merged, again)
		}
		if fmt.Sprint(Reconcile(merged, a)) != fmt.Sprint(merged) {
			t.Fatalf("iteration %d: not idempotent against local input", iteration)
		}
	}
}

func sortedSummary(elements []Element) string {
	summary := make([]string, len(elements))
	for i, element := range elements {
		summary[i] = fmt.Sprintf("%s@%d/%d", element.ID, element.Version, element.VersionNonce)
	}
	sort.Strings(summary)
	return fmt.Sprint(summary)
}

func TestReconcileConverges(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for iteration := range 200 {
		updates := make([][]Element, 1+rng.IntN(5))
		for i := range updates {
			updates[i] = randomScene(rng)
		}

		// Two peers see the same updates in different orders and
		// from different starting scenes.
		first := randomScene(rng)
		second := Reconcile(nil, first)
		for _, update := range updates {
			first = Reconcile(first, update)
		}
		for _, index := range rng.Perm(len(updates)) {
			second = Reconcile(updates[index], second)
		}

		if sortedSummary(first) != sortedSummary(second) {
			t.Fatalf("iteration %d: peers diverged:\n%s\n%s", iteration, sortedSummary(first), sortedSummary(second))
		}
	}
}

func TestVersion(t *testing.T) {
	if got := Version(nil); got != 0 {
		t.Errorf("Version(nil) = %d", got)
	}
	if got := Version([]Element{el("a", 3, 0), el("b", 9, 0), el("c", 4, 0)}); got != 9 {
		t.Errorf("Version = %d, want 9", got)
	}
}

func TestRestore(t *testing.T) {
	input := []Element{
		el("a", 1, 1),
		el("", 1, 1),
		el("b", -1, 1),
		el("a", 5, 1),
		el("c", 0, 0),
	}
	got := Restore(input)
	if want := []string{"a", "c"}; !slices.Equal(ids(got), want) {
		t.Fatalf("Restore ids = %v, want %v", ids(got), want)
	}
	if got[0].Version != 1 {
		t.Errorf("Restore kept the later duplicate")
	}
}

func TestNonDeletedAndFileIDs(t *testing.T) {
	elements := []Element{
		{ID: "a", Version: 1, Payload: []byte(`{"type":"image","fileId":"f1"}`)},
		{ID: "b", Version: 1, Payload: []byte(`{"type":"image","fileId":"f2"}`), IsDeleted: true},
		{ID: "c", Version: 1, Payload: []byte(`{"type":"image","fileId":"f1"}`)},
		{ID: "d", Version: 1, Payload: []byte(`{"type":"rectangle"}`)},
	}
	if got := ids(NonDeleted(elements)); !slices.Equal(got, []string{"a", "c", "d"}) {
		t.Errorf("NonDeleted = %v", got)
	}
	if got := FileIDs(elements); !slices.Equal(got, []string{"f1"}) {
		t.Errorf("FileIDs = %v", got)
	}
}
