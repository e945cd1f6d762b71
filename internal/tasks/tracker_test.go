package tasks

import (
	"reflect"
	"testing"

	"github.com/chadiek/voice-consult/internal/protocol"
)

func newTracker() *Tracker {
	return New([]protocol.TaskSpec{
		{ID: 1, Description: "Begrüßung"},
		{ID: 2, Description: "Bedarf klären"},
		{ID: 3, Description: "Produkt empfehlen"},
	})
}

func TestMarkComplete_Monotonic(t *testing.T) {
	tr := newTracker()
	if !tr.MarkComplete(2) {
		t.Fatal("first MarkComplete(2) = false, want true")
	}
	if tr.MarkComplete(2) {
		t.Fatal("second MarkComplete(2) = true, want false")
	}
	if tr.MarkComplete(99) {
		t.Fatal("MarkComplete(99) on unknown id = true, want false")
	}

	snap := tr.Snapshot()
	if !snap[1].Completed {
		t.Fatal("task 2 not completed in snapshot")
	}
	if snap[0].Completed || snap[2].Completed {
		t.Fatal("unrelated tasks flipped")
	}
}

func TestAllDone(t *testing.T) {
	tr := newTracker()
	if tr.AllDone() {
		t.Fatal("AllDone on fresh tracker = true")
	}
	for _, id := range []int{1, 2, 3} {
		tr.MarkComplete(id)
	}
	if !tr.AllDone() {
		t.Fatal("AllDone after completing all = false")
	}
	if !New(nil).AllDone() {
		t.Fatal("AllDone on empty list = false, want true")
	}
}

func TestNew_PreservesCompletedAndSkipsDuplicates(t *testing.T) {
	tr := New([]protocol.TaskSpec{
		{ID: 1, Description: "a", Completed: true},
		{ID: 1, Description: "dup"},
		{ID: 2, Description: "b"},
	})
	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len = %d, want 2", len(snap))
	}
	if !snap[0].Completed || snap[0].Description != "a" {
		t.Fatalf("task 1 = %+v, want completed original", snap[0])
	}
	if tr.MarkComplete(1) {
		t.Fatal("MarkComplete on pre-completed task = true, want false")
	}
}

func TestExtractMarkers(t *testing.T) {
	clean, ids := ExtractMarkers("Gern geschehen. [TASK_1_DONE] Was darf es sein? [TASK_12_DONE]")
	if clean != "Gern geschehen.  Was darf es sein? " {
		t.Fatalf("clean = %q", clean)
	}
	if !reflect.DeepEqual(ids, []int{1, 12}) {
		t.Fatalf("ids = %v, want [1 12]", ids)
	}

	clean, ids = ExtractMarkers("no markers here")
	if clean != "no markers here" || ids != nil {
		t.Fatalf("got %q, %v", clean, ids)
	}
}

func TestStripPartialMarker(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hallo [TASK_1_DONE]", "Hallo "},
		{"Hallo [", "Hallo "},
		{"Hallo [TA", "Hallo "},
		{"Hallo [TASK_", "Hallo "},
		{"Hallo [TASK_12", "Hallo "},
		{"Hallo [TASK_12_DON", "Hallo "},
		{"Hallo [Klammer] zu", "Hallo [Klammer] zu"},
		{"Hallo [TASK_x", "Hallo [TASK_x"},
		{"plain text", "plain text"},
	}
	for _, c := range cases {
		if got := StripPartialMarker(c.in); got != c.want {
			t.Errorf("StripPartialMarker(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
