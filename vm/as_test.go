package vm

import (
	"testing"

	"defs"
	"kcap"
	"mem"
	"swap"
	"vfs"
)

func newTestAs(t *testing.T, capacity int) (*Vm_t, *mem.Frametable_t) {
	t.Helper()
	space := kcap.NewDefaultSpace()
	swapfile := vfs.NewMemFile()
	freelist := swap.NewFreelist(vfs.NewMemFile())
	var as *Vm_t
	ft := mem.NewFrametable(capacity, space, swapfile, freelist, evictProxy{&as}, nil)
	oft := vfs.NewOFT()
	var err defs.Err_t
	alive := func(defs.Pid_t) bool { return true }
	as, err = NewVm(1, ft, space, freelist, oft, alive)
	if err != 0 {
		t.Fatalf("NewVm: %v", err)
	}
	return as, ft
}

// evictProxy defers to whatever Vm_t is constructed after the frame
// table, since NewFrametable and NewVm are mutually referential in tests.
type evictProxy struct {
	as **Vm_t
}

func (p evictProxy) Evict(pid defs.Pid_t, vaddr uintptr, swapIndex uint32) defs.Err_t {
	return (*p.as).Evict(pid, vaddr, swapIndex)
}

func TestMapPageThenAlreadyMapped(t *testing.T) {
	as, _ := newTestAs(t, 8)
	if err := as.MapPage(stackBase); err != 0 {
		t.Fatalf("MapPage: %v", err)
	}
	if err := as.MapPage(stackBase); err != defs.EALREADY_MAPPED {
		t.Fatalf("second MapPage should be EALREADY_MAPPED, got %v", err)
	}
	if as.Mapped() != 1 {
		t.Fatalf("Mapped() = %d, want 1", as.Mapped())
	}
}

func TestMapPageOutsideRegionFails(t *testing.T) {
	as, _ := newTestAs(t, 8)
	if err := as.MapPage(0x99999000); err != defs.EINVALID_REGION {
		t.Fatalf("expected EINVALID_REGION, got %v", err)
	}
}

func TestMapPageNullFails(t *testing.T) {
	as, _ := newTestAs(t, 8)
	if err := as.MapPage(0); err != defs.EINVALID_ADDR {
		t.Fatalf("expected EINVALID_ADDR, got %v", err)
	}
}

func TestBrkGrowsHeap(t *testing.T) {
	as, _ := newTestAs(t, 8)
	if err := as.Brk(heapBase + 0x2000); err != 0 {
		t.Fatalf("Brk: %v", err)
	}
	r, ok := as.FindRegion(heapBase + 0x1000)
	if !ok {
		t.Fatalf("heap region should now cover heapBase+0x1000")
	}
	if r.Size != 0x2000 {
		t.Fatalf("heap size = %#x, want 0x2000", r.Size)
	}
}

func TestCopyOutThenCopyInRoundTrip(t *testing.T) {
	as, _ := newTestAs(t, 8)
	want := []uint8{1, 2, 3, 4, 5}
	if n, err := as.CopyOut(stackBase, want); err != 0 || n != len(want) {
		t.Fatalf("CopyOut: n=%d err=%v", n, err)
	}
	got := make([]uint8, len(want))
	if n, err := as.CopyIn(stackBase, got); err != 0 || n != len(got) {
		t.Fatalf("CopyIn: n=%d err=%v", n, err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSwapRoundTripPreservesContents(t *testing.T) {
	as, ft := newTestAs(t, 3)
	if err := as.MapPage(stackBase); err != 0 {
		t.Fatalf("MapPage stack: %v", err)
	}
	stamp := []uint8{0xaa, 0xbb, 0xcc, 0xdd}
	if _, err := as.CopyOut(stackBase, stamp); err != 0 {
		t.Fatalf("CopyOut: %v", err)
	}

	// The stack and heap page-table leaves each take one unswappable
	// frame, leaving a single swappable frame in a 3-frame table, so
	// mapping heap pages forces the stack page out to swap.
	as.Brk(heapBase + 0x3000)
	as.MapPage(heapBase)
	as.MapPage(heapBase + 0x1000)

	if ft.Used() > 3 {
		t.Fatalf("frame table should never exceed its capacity, used=%d", ft.Used())
	}

	got := make([]uint8, len(stamp))
	if _, err := as.CopyIn(stackBase, got); err != 0 {
		t.Fatalf("CopyIn after swap round trip: %v", err)
	}
	for i := range stamp {
		if got[i] != stamp[i] {
			t.Fatalf("byte %d = %#x, want %#x after swap round trip", i, got[i], stamp[i])
		}
	}
}
