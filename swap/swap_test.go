package swap

import (
	"testing"

	"util"
	"vfs"
)

func TestBumpPointerWhenFreelistEmpty(t *testing.T) {
	f := NewFreelist(vfs.NewMemFile())
	for i := uint32(0); i < 5; i++ {
		idx, err := f.GetSwapIndex()
		if err != 0 {
			t.Fatalf("GetSwapIndex: %v", err)
		}
		if idx != i {
			t.Fatalf("got index %d, want %d", idx, i)
		}
	}
}

func TestFreeThenReuse(t *testing.T) {
	f := NewFreelist(vfs.NewMemFile())
	a, _ := f.GetSwapIndex()
	b, _ := f.GetSwapIndex()
	if err := f.FreeSwapIndex(b); err != 0 {
		t.Fatalf("FreeSwapIndex: %v", err)
	}
	if err := f.FreeSwapIndex(a); err != 0 {
		t.Fatalf("FreeSwapIndex: %v", err)
	}
	// LIFO: most recently freed index comes back first.
	got, _ := f.GetSwapIndex()
	if got != a {
		t.Fatalf("got %d, want %d", got, a)
	}
	got, _ = f.GetSwapIndex()
	if got != b {
		t.Fatalf("got %d, want %d", got, b)
	}
}

func TestOverflowRoundTrip(t *testing.T) {
	f := NewFreelist(vfs.NewMemFile())
	// Mint workingSetSize+1 distinct indices so freeing all of them
	// overflows the in-memory working set exactly once. The last one
	// freed is consumed as the overflow page's own file slot, so it is
	// not itself returned again — only the workingSetSize entries it
	// was storing come back out.
	ids := make([]uint32, workingSetSize+1)
	for i := range ids {
		ids[i], _ = f.GetSwapIndex()
	}
	for _, id := range ids {
		if err := f.FreeSwapIndex(id); err != 0 {
			t.Fatalf("FreeSwapIndex(%d): %v", id, err)
		}
	}
	if f.length != 0 {
		t.Fatalf("working set length = %d, want 0 right after overflow", f.length)
	}
	if f.page == nil {
		t.Fatalf("expected an overflow page to be linked")
	}

	seen := make(map[uint32]bool)
	for i := 0; i < workingSetSize; i++ {
		idx, err := f.GetSwapIndex()
		if err != 0 {
			t.Fatalf("GetSwapIndex: %v", err)
		}
		if seen[idx] {
			t.Fatalf("index %d handed out twice", idx)
		}
		seen[idx] = true
	}
	if seen[ids[workingSetSize]] {
		t.Fatalf("overflow page's own slot %d should not be handed back out", ids[workingSetSize])
	}
	if f.page != nil {
		t.Fatalf("overflow page should be discarded once its contents are reloaded")
	}
}

var _ = util.PGSIZE
