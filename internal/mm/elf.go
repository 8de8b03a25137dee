package mm

import (
	"debug/elf"
	"io"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

// ElfLoadInfo is the outcome of loading an ELF image into a process's
// address space.
type ElfLoadInfo struct {
	EntryPoint   uint64
	UserStackTop uint64
}

func vmPermsOf(flags elf.ProgFlag) VmPerms {
	var p VmPerms
	if flags&elf.PF_R != 0 {
		p |= PermRead
	}
	if flags&elf.PF_W != 0 {
		p |= PermWrite
	}
	if flags&elf.PF_X != 0 {
		p |= PermExec
	}
	return p
}

// LoadElfToVm maps image's PT_LOAD segments into pv's root Vmar and writes
// its initial stack. On any failure the root Vmar is cleared
// before the error is returned, since the caller's process is no longer in
// a state it can safely return to user space from ("the process must
// not continue; the caller is expected to exit_group").
func LoadElfToVm(pv *ProcessVm, alloc rt.FrameAllocator, image []byte, argv, envp []string) (ElfLoadInfo, error) {
	info, err := loadElfToVm(pv, alloc, image, argv, envp)
	if err != nil {
		pv.RootVmar().Clear()
		return ElfLoadInfo{}, err
	}
	return info, nil
}

func loadElfToVm(pv *ProcessVm, alloc rt.FrameAllocator, image []byte, argv, envp []string) (ElfLoadInfo, error) {
	f, err := elf.NewFile(newSliceReaderAt(image))
	if err != nil {
		return ElfLoadInfo{}, errs.New(errs.EINVAL, "elf: malformed image")
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if err := mapSegmentVmo(pv.RootVmar(), alloc, image, prog); err != nil {
			return ElfLoadInfo{}, err
		}
	}

	phoff, phentsize := elfProgramHeaderLayout(f, image)
	aux := AuxVec{}
	aux.Set(AtPagesz, PageSize)
	aux.Set(AtPhdr, phoff)
	aux.Set(AtPhnum, uint64(len(f.Progs)))
	aux.Set(AtPhent, phentsize)
	aux.Set(AtEntry, f.Entry)

	stack := NewInitStack()
	top, err := stack.MapAndWrite(pv.RootVmar(), alloc, argv, envp, aux)
	if err != nil {
		return ElfLoadInfo{}, err
	}
	pv.SetInitStack(stack)

	return ElfLoadInfo{EntryPoint: f.Entry, UserStackTop: top}, nil
}

// mapSegmentVmo creates and maps the Vmo backing one PT_LOAD segment,
// padding its head and tail with zeros where the segment's file contents
// don't cover the full page ("head/tail padding").
func mapSegmentVmo(vr *Vmar, alloc rt.FrameAllocator, image []byte, prog *elf.Prog) error {
	fileOff := prog.Off
	vaddr := prog.Vaddr
	memsz := prog.Memsz
	filesz := prog.Filesz

	vmo := NewVmo(memsz, alloc)
	pageOff := fileOff % PageSize
	if fileOff+filesz > uint64(len(image)) {
		return errs.New(errs.EINVAL, "elf: segment extends beyond file")
	}
	if err := vmo.WriteSlice(pageOff, image[fileOff:fileOff+filesz]); err != nil {
		return err
	}

	vmapStart := AlignDown(vaddr)
	vmapEnd := AlignUp(vaddr + memsz)
	totalMapSize := vmapEnd - vmapStart

	segStart := AlignDown(pageOff)
	segEnd := AlignUp(pageOff + filesz)
	segmentSize := segEnd - segStart

	perms := vmPermsOf(prog.Flags)
	offset := AlignDown(vaddr)

	if segmentSize != 0 {
		if _, err := vr.NewMap(segmentSize, perms).
			At(offset).
			WithVmo(vmo, segStart).
			WithVmoLimit(segStart + segmentSize).
			CanOverwrite(true).
			HandleFaultsAround(true).
			Build(); err != nil {
			return err
		}
	}

	if anon := totalMapSize - segmentSize; anon > 0 {
		if _, err := vr.NewMap(anon, perms).
			At(offset + segmentSize).
			CanOverwrite(true).
			Build(); err != nil {
			return err
		}
	}
	return nil
}

// elfProgramHeaderLayout returns AT_PHDR/AT_PHENT, reading the raw e_phoff
// field directly since debug/elf doesn't re-expose it on FileHeader.
func elfProgramHeaderLayout(f *elf.File, image []byte) (phoff, phentsize uint64) {
	order := f.ByteOrder
	if f.Class == elf.ELFCLASS64 {
		if len(image) < 58 {
			return 0, 56
		}
		return order.Uint64(image[32:40]), uint64(order.Uint16(image[54:56]))
	}
	if len(image) < 44 {
		return 0, 32
	}
	return uint64(order.Uint32(image[28:32])), uint64(order.Uint16(image[42:44]))
}

type sliceReaderAt struct{ b []byte }

func newSliceReaderAt(b []byte) *sliceReaderAt { return &sliceReaderAt{b: b} }

func (r *sliceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(r.b)) {
		return 0, errs.New(errs.EFAULT, "elf: read out of range")
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
