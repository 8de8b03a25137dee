package mm

import (
	"sync"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

// MaxUserspaceVaddr bounds the interval [0, MaxUserspaceVaddr) that a Vmar
// allocates mappings within.
const MaxUserspaceVaddr = uint64(1) << 46

var log = logrus.WithField("subsystem", "mm")

// VmPerms is a permission bitset on a mapping.
type VmPerms uint8

const (
	PermRead VmPerms = 1 << iota
	PermWrite
	PermExec
)

func (p VmPerms) Has(want VmPerms) bool { return p&want == want }

// mapping is one entry in a Vmar's interval tree.
type mapping struct {
	start, end             uint64
	vmo                    *Vmo
	vmoOffset, vmoLimit    uint64
	perms                  VmPerms
	canOverwrite           bool
	handlePageFaultsAround bool
}

func (m *mapping) Less(than btree.Item) bool {
	return m.start < than.(*mapping).start
}

func (m *mapping) contains(addr uint64) bool { return addr >= m.start && addr < m.end }
func (m *mapping) overlaps(start, end uint64) bool {
	return m.start < end && start < m.end
}

// Vmar is an interval tree of mappings over [0, MaxUserspaceVaddr), one per
// process's address space. A single Vmar serializes all of its modifications.
type Vmar struct {
	mu      sync.RWMutex
	tree    *btree.BTree
	vmSpace rt.VmSpace
	alloc   rt.FrameAllocator
}

// NewRootVmar creates a fresh, empty address space.
func NewRootVmar(vmSpace rt.VmSpace, alloc rt.FrameAllocator) *Vmar {
	return &Vmar{tree: btree.New(16), vmSpace: vmSpace, alloc: alloc}
}

// VmSpace returns the hardware address space handle this Vmar installs
// mappings into.
func (vr *Vmar) VmSpace() rt.VmSpace { return vr.vmSpace }

// findLocked returns the mapping containing addr, if any. Callers must hold
// vr.mu for at least reading.
func (vr *Vmar) findLocked(addr uint64) *mapping {
	var found *mapping
	// The mapping containing addr, if any, is the one with the greatest
	// start <= addr, since mappings are disjoint; only that one is checked.
	vr.tree.DescendLessOrEqual(&mapping{start: addr}, func(it btree.Item) bool {
		m := it.(*mapping)
		if m.contains(addr) {
			found = m
		}
		return false
	})
	return found
}

// overlappingLocked returns every mapping intersecting [start, end).
func (vr *Vmar) overlappingLocked(start, end uint64) []*mapping {
	var out []*mapping
	vr.tree.Ascend(func(it btree.Item) bool {
		m := it.(*mapping)
		if m.start >= end {
			return false
		}
		if m.overlaps(start, end) {
			out = append(out, m)
		}
		return true
	})
	return out
}

// mmapBase is the lowest address non-fixed mmap allocations are searched
// from, kept well clear of DefaultHeapBase and its MaxHeapSize.
const mmapBase = uint64(0x40000000)

// findFreeRange returns the lowest address at or above mmapBase where a
// mapping of the given length fits without overlapping an existing one.
func (vr *Vmar) findFreeRange(length uint64) (uint64, error) {
	vr.mu.RLock()
	defer vr.mu.RUnlock()
	candidate := mmapBase
	for {
		if candidate+length > MaxUserspaceVaddr {
			return 0, errs.New(errs.ENOMEM, "vmar: no free address range")
		}
		conflict := false
		vr.tree.Ascend(func(it btree.Item) bool {
			m := it.(*mapping)
			if m.start >= candidate+length {
				return false
			}
			if m.overlaps(candidate, candidate+length) {
				conflict = true
				candidate = m.end
				return false
			}
			return true
		})
		if !conflict {
			return candidate, nil
		}
	}
}

// MapBuilder accumulates the fields of a to-be-installed mapping, mirroring
// Vmar.new_map's builder-style argument set.
type MapBuilder struct {
	vr                     *Vmar
	offset                 uint64
	len                    uint64
	vmo                    *Vmo
	vmoOffset              uint64
	vmoLimit               uint64
	perms                  VmPerms
	canOverwrite           bool
	handlePageFaultsAround bool
	hasOffset              bool
}

// NewMap begins building a mapping of len bytes with the given permissions.
func (vr *Vmar) NewMap(length uint64, perms VmPerms) *MapBuilder {
	return &MapBuilder{vr: vr, len: length, perms: perms, vmoLimit: length}
}

func (b *MapBuilder) At(offset uint64) *MapBuilder { b.offset = offset; b.hasOffset = true; return b }
func (b *MapBuilder) WithVmo(vmo *Vmo, vmoOffset uint64) *MapBuilder {
	b.vmo = vmo
	b.vmoOffset = vmoOffset
	return b
}
func (b *MapBuilder) WithVmoLimit(limit uint64) *MapBuilder { b.vmoLimit = limit; return b }
func (b *MapBuilder) CanOverwrite(v bool) *MapBuilder       { b.canOverwrite = v; return b }
func (b *MapBuilder) HandleFaultsAround(v bool) *MapBuilder {
	b.handlePageFaultsAround = v
	return b
}

// Build installs the mapping, returning its start address.
func (b *MapBuilder) Build() (uint64, error) {
	if b.len == 0 || b.len%PageSize != 0 {
		return 0, errs.New(errs.EINVAL, "vmar: length not page-aligned")
	}
	if !b.hasOffset {
		return 0, errs.New(errs.EINVAL, "vmar: no address chosen")
	}
	start := AlignDown(b.offset)
	end := start + b.len
	if end > MaxUserspaceVaddr {
		return 0, errs.New(errs.ENOMEM, "vmar: mapping exceeds address space")
	}
	if b.vmo == nil {
		b.vmo = NewVmo(b.len, b.vr.alloc)
	}

	vr := b.vr
	vr.mu.Lock()
	defer vr.mu.Unlock()

	overlapping := vr.overlappingLocked(start, end)
	if len(overlapping) > 0 && !b.canOverwrite {
		return 0, errs.New(errs.EINVAL, "vmar: range overlaps an existing mapping")
	}
	for _, m := range overlapping {
		vr.tree.Delete(m)
		if m.start < start {
			left := *m
			left.end = start
			vr.tree.ReplaceOrInsert(&left)
		}
		if m.end > end {
			right := *m
			right.start = end
			right.vmoOffset = m.vmoOffset + (end - m.start)
			vr.tree.ReplaceOrInsert(&right)
		}
	}

	vr.tree.ReplaceOrInsert(&mapping{
		start: start, end: end,
		vmo: b.vmo, vmoOffset: b.vmoOffset, vmoLimit: b.vmoLimit,
		perms: b.perms, canOverwrite: b.canOverwrite,
		handlePageFaultsAround: b.handlePageFaultsAround,
	})
	return start, nil
}

// RemoveMapping punches out [start, end), splitting any mapping that
// straddles its boundary.
func (vr *Vmar) RemoveMapping(start, end uint64) error {
	if start%PageSize != 0 || end <= start {
		return errs.New(errs.EINVAL, "vmar: bad range")
	}
	vr.mu.Lock()
	defer vr.mu.Unlock()
	for _, m := range vr.overlappingLocked(start, end) {
		vr.tree.Delete(m)
		if m.start < start {
			left := *m
			left.end = start
			vr.tree.ReplaceOrInsert(&left)
		}
		if m.end > end {
			right := *m
			right.start = end
			right.vmoOffset = m.vmoOffset + (end - m.start)
			vr.tree.ReplaceOrInsert(&right)
		}
	}
	return nil
}

// Clear removes every mapping, used on fatal ELF-load failure and process
// reap.
func (vr *Vmar) Clear() {
	vr.mu.Lock()
	defer vr.mu.Unlock()
	vr.tree = btree.New(16)
}

// ForkFrom produces an independent Vmar covering the same ranges as other,
// with copy-on-write semantics realized lazily by HandlePageFault: the COW
// obligation lives in the fault handler, not in ForkFrom itself.
func ForkFrom(other *Vmar, vmSpace rt.VmSpace) *Vmar {
	other.mu.Lock()
	defer other.mu.Unlock()
	out := &Vmar{tree: btree.New(16), vmSpace: vmSpace, alloc: other.alloc}
	other.tree.Ascend(func(it btree.Item) bool {
		m := it.(*mapping)
		childVmo := m.vmo.Fork()
		out.tree.ReplaceOrInsert(&mapping{
			start: m.start, end: m.end,
			vmo: childVmo, vmoOffset: m.vmoOffset, vmoLimit: m.vmoLimit,
			perms: m.perms, canOverwrite: m.canOverwrite,
			handlePageFaultsAround: m.handlePageFaultsAround,
		})
		return true
	})
	return out
}

// Translate resolves a virtual address to its backing Vmo and byte offset
// within that Vmo, for kernel-side reads/writes of process memory (syscall
// argument marshaling) that bypass the page-fault path entirely.
func (vr *Vmar) Translate(addr uint64) (*Vmo, uint64, error) {
	vr.mu.RLock()
	m := vr.findLocked(addr)
	vr.mu.RUnlock()
	if m == nil {
		return nil, 0, errs.New(errs.EFAULT, "vmar: unmapped address")
	}
	off := m.vmoOffset + (addr - m.start)
	if off >= m.vmoLimit {
		return nil, 0, errs.New(errs.EFAULT, "vmar: address beyond vmo limit")
	}
	return m.vmo, off, nil
}

// PageFaultInfo describes a fault to be resolved.
type PageFaultInfo struct {
	Address       uint64
	RequiredPerms VmPerms
}

// HandlePageFault resolves a fault against the mapping covering its address.
func (vr *Vmar) HandlePageFault(info PageFaultInfo) error {
	vr.mu.Lock()
	m := vr.findLocked(info.Address)
	vr.mu.Unlock()
	if m == nil {
		return errs.New(errs.EFAULT, "vmar: no mapping at fault address")
	}
	if !m.perms.Has(info.RequiredPerms) {
		return errs.New(errs.EACCES, "vmar: permission violation")
	}

	pageStart := AlignDown(info.Address)
	vmoOff := m.vmoOffset + (pageStart - m.start)
	if vmoOff >= m.vmoLimit {
		return errs.New(errs.EFAULT, "vmar: access beyond vmo limit")
	}
	if _, err := m.vmo.CommitPage(vmoOff); err != nil {
		return err
	}

	if info.RequiredPerms.Has(PermWrite) {
		idx := pageIndex(vmoOff)
		if !m.vmo.isPrivate(idx) {
			frame, err := m.vmo.CommitPage(vmoOff)
			if err != nil {
				return err
			}
			dup, err := vr.alloc.Duplicate(frame)
			if err != nil {
				return errs.New(errs.ENOMEM, "vmar: cow duplication failed")
			}
			m.vmo.Replace(dup, idx)
		}
	}

	// "Install the PTE" is a no-op in this Runtime simulation: there is no
	// real MMU behind rt.VmSpace, an external collaborator.

	if m.handlePageFaultsAround {
		vr.faultAround(m, pageStart)
	}
	return nil
}

// faultAround opportunistically commits the page immediately before and
// after pageStart within the same mapping, ignoring any errors: this is a
// best-effort prefetch that must never fail the outer call.
func (vr *Vmar) faultAround(m *mapping, pageStart uint64) {
	for _, neighbor := range []uint64{pageStart - PageSize, pageStart + PageSize} {
		if neighbor < m.start || neighbor >= m.end {
			continue
		}
		off := m.vmoOffset + (neighbor - m.start)
		if off >= m.vmoLimit {
			continue
		}
		if _, err := m.vmo.CommitPage(off); err != nil {
			log.WithError(err).Debug("fault-around commit failed, ignoring")
		}
	}
}
