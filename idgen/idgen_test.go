// Copyright (c) 2025 BVK Chaitanya

package idgen

import "testing"

func TestDeterminism(t *testing.T) {
	a := New("/orders/1", 0)
	b := New("/orders/1", 0)
	for i := 0; i < 100; i++ {
		x, y := a.NextID(), b.NextID()
		if x != y {
			t.Fatalf("id %d: %v != %v", i, x, y)
		}
	}

	c := New("/orders/1", 50)
	if v := c.NextID(); v != a.At(50) {
		t.Fatalf("offset restart: %v != %v", v, a.At(50))
	}
}

func TestSeedsDiffer(t *testing.T) {
	a := New("/orders/1", 0)
	b := New("/orders/2", 0)
	if a.NextID() == b.NextID() {
		t.Fatalf("different seeds produced the same id")
	}
}
