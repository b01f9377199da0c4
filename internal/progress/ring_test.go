package progress

import (
	"reflect"
	"testing"
)

func TestRingWrapsAndKeepsNewest(t *testing.T) {
	r := newRing[int](3)
	if got := r.items(); len(got) != 0 {
		t.Fatalf("expected empty ring, got %v", got)
	}

	for i := 1; i <= 5; i++ {
		r.push(i)
	}
	if got, want := r.items(), []int{3, 4, 5}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if r.len() != 3 {
		t.Fatalf("expected len 3, got %d", r.len())
	}

	r.reset()
	r.push(9)
	if got := r.items(); !reflect.DeepEqual(got, []int{9}) {
		t.Fatalf("expected [9] after reset, got %v", got)
	}
}
