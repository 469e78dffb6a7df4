package ids

import (
	"testing"
	"time"
)

func TestNewIsSortableAndValid(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := At(base)
	b := At(base.Add(time.Millisecond))
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
	for _, id := range []string{a, b, New()} {
		if !Valid(id) {
			t.Fatalf("expected %q to be valid", id)
		}
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "  ", "not-an-id", "01ARZ3NDEKTSV4RRFFQ69G5FA"} {
		if Valid(in) {
			t.Fatalf("expected %q to be invalid", in)
		}
	}
}
