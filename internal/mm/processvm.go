package mm

import (
	"sync"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

// ProcessVm bundles the three pieces of a process's virtual memory: the
// address-region tree, the initial stack, and the brk-managed heap.
type ProcessVm struct {
	rootVmar  *Vmar
	initStack *InitStack
	heap      *Heap
	alloc     rt.FrameAllocator
}

// AllocProcessVm creates a fresh, empty ProcessVm over a new root Vmar.
func AllocProcessVm(vmSpace rt.VmSpace, alloc rt.FrameAllocator) *ProcessVm {
	return &ProcessVm{
		rootVmar:  NewRootVmar(vmSpace, alloc),
		initStack: NewInitStack(),
		heap:      NewHeap(alloc),
		alloc:     alloc,
	}
}

// ForkProcessVm produces a ProcessVm for a cloned process: its Vmar shares
// copy-on-write pages with other's, its init stack and heap are cloned
// mirroring ProcessVm::fork_from.
func ForkProcessVm(other *ProcessVm, vmSpace rt.VmSpace) *ProcessVm {
	return &ProcessVm{
		rootVmar:  ForkFrom(other.rootVmar, vmSpace),
		initStack: other.initStack.Clone(),
		heap:      other.heap.Clone(),
		alloc:     other.alloc,
	}
}

func (pv *ProcessVm) RootVmar() *Vmar           { return pv.rootVmar }
func (pv *ProcessVm) Heap() *Heap               { return pv.heap }
func (pv *ProcessVm) SetInitStack(s *InitStack) { pv.initStack = s }

// UserStackTop returns the top of the user stack as last written.
func (pv *ProcessVm) UserStackTop() uint64 { return pv.initStack.UserStackTop() }

// MapAndWriteInitStack writes argv/envp/aux onto the process's init stack.
func (pv *ProcessVm) MapAndWriteInitStack(argv, envp []string, aux AuxVec) error {
	top, err := pv.initStack.MapAndWrite(pv.rootVmar, pv.alloc, argv, envp, aux)
	if err != nil {
		return err
	}
	_ = top
	return nil
}

// HandlePageFault delegates to the root Vmar.
func (pv *ProcessVm) HandlePageFault(info PageFaultInfo) error {
	return pv.rootVmar.HandlePageFault(info)
}

// ReadCString reads a NUL-terminated string from user memory at addr.
func (pv *ProcessVm) ReadCString(addr uint64, maxLen int) (string, error) {
	vmo, off, err := pv.rootVmar.Translate(addr)
	if err != nil {
		return "", err
	}
	return vmo.ReadCString(off, maxLen)
}

// ReadProcVal reads a fixed-size value from user memory at addr.
func ReadProcVal[T any](pv *ProcessVm, addr uint64) (T, error) {
	var zero T
	vmo, off, err := pv.rootVmar.Translate(addr)
	if err != nil {
		return zero, err
	}
	return ReadVal[T](vmo, off)
}

// WriteProcVal writes a fixed-size value into user memory at addr.
func WriteProcVal[T any](pv *ProcessVm, addr uint64, val T) error {
	vmo, off, err := pv.rootVmar.Translate(addr)
	if err != nil {
		return err
	}
	return WriteVal(vmo, off, val)
}

// Heap implements the brk-managed break segment, grounded on the original's
// vm/brk.rs.
type Heap struct {
	mu     sync.Mutex
	start  uint64 // fixed once mapped
	end    uint64 // current break
	vmo    *Vmo
	mapped bool
	alloc  rt.FrameAllocator
}

// DefaultHeapBase is the fixed virtual address the heap is first mapped at.
// A real kernel would place this just above the executable's highest
// segment; this simulation has no loader-reported highest address to
// consult, so it uses a fixed, generously-clear region instead.
const DefaultHeapBase = uint64(0x10000000)

// MaxHeapSize bounds how far brk can grow the heap.
const MaxHeapSize = uint64(256) * 1024 * 1024

// NewHeap creates an unmapped heap; its address range is reserved lazily on
// the first brk() call per the original's Heap::new()+lazy alloc_and_map_vm.
func NewHeap(alloc rt.FrameAllocator) *Heap {
	return &Heap{start: DefaultHeapBase, end: DefaultHeapBase, alloc: alloc}
}

// Clone returns an independent Heap value with the same break, used when
// forking a ProcessVm. The underlying pages follow the forked Vmar's own
// copy-on-write Vmo, not this struct, so no Vmo is shared here.
func (h *Heap) Clone() *Heap {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &Heap{start: h.start, end: h.end, alloc: h.alloc}
}

// Brk implements the brk(2) semantics: newEnd == nil queries the current
// break. A target below start leaves the break unchanged and returns it; a
// target above start+MaxHeapSize fails with ENOMEM. Any other target becomes
// the new break, and the mapping is extended when the break grows past the
// pages already mapped; shrinking does not unmap pages.
func (h *Heap) Brk(newEnd *uint64, vr *Vmar) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if newEnd == nil {
		return h.end, nil
	}
	target := *newEnd
	if target < h.start {
		return h.end, nil
	}
	if target > h.start+MaxHeapSize {
		return 0, errs.New(errs.ENOMEM, "brk: exceeds heap limit")
	}

	if !h.mapped {
		h.vmo = NewVmo(MaxHeapSize, h.alloc)
		h.mapped = true
	}

	oldEnd := h.end
	h.end = target
	mappedEnd := AlignUp(oldEnd - h.start)
	newMappedEnd := AlignUp(target - h.start)
	if newMappedEnd <= mappedEnd {
		return h.end, nil
	}

	if _, err := vr.NewMap(newMappedEnd-mappedEnd, PermRead|PermWrite).
		At(h.start + mappedEnd).
		WithVmo(h.vmo, mappedEnd).
		WithVmoLimit(newMappedEnd).
		CanOverwrite(true).
		Build(); err != nil {
		h.end = oldEnd
		return 0, err
	}
	return h.end, nil
}
