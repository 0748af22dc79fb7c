package filesys

import (
	"errors"
	"testing"
)

func TestFreeMapAllocateAndRelease(t *testing.T) {
	fsys := mustFormat(t, 64)
	defer fsys.Done()

	before, err := fsys.freeMap.FreeSectorCount()
	if err != nil {
		t.Fatalf("free count: %v", err)
	}

	var s1, s2 uint32
	if err := fsys.freeMap.Allocate(1, &s1); err != nil {
		t.Fatalf("allocate s1: %v", err)
	}
	if err := fsys.freeMap.Allocate(1, &s2); err != nil {
		t.Fatalf("allocate s2: %v", err)
	}
	if s1 == s2 {
		t.Fatalf("two allocations returned the same sector %d", s1)
	}

	mid, err := fsys.freeMap.FreeSectorCount()
	if err != nil {
		t.Fatalf("free count: %v", err)
	}
	if mid != before-2 {
		t.Fatalf("free count after 2 allocations = %d, want %d", mid, before-2)
	}

	fsys.freeMap.Release(s1, 1)
	after, err := fsys.freeMap.FreeSectorCount()
	if err != nil {
		t.Fatalf("free count: %v", err)
	}
	if after != mid+1 {
		t.Fatalf("free count after release = %d, want %d", after, mid+1)
	}
}

func TestFreeMapExhaustion(t *testing.T) {
	fsys := mustFormat(t, 20)
	defer fsys.Done()

	var s uint32
	allocated := 0
	for {
		if err := fsys.freeMap.Allocate(1, &s); err != nil {
			if !errors.Is(err, ErrNoSpace) {
				t.Fatalf("expected ErrNoSpace, got %v", err)
			}
			break
		}
		allocated++
		if allocated > 64 {
			t.Fatalf("allocate did not fail after exhausting a 20-sector device")
		}
	}
}
