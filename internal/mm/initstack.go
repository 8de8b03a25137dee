package mm

import (
	"sync/atomic"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

// Bounds on the init-stack's argv/envp vectors.
const (
	MaxArgvNumber = 1024
	MaxArgLen     = 4096
	MaxEnvpNumber = 1024
	MaxEnvLen     = 4096

	// InitStackSize is the reserved size of the init stack Vmo (8 MiB).
	InitStackSize = uint64(8) * 1024 * 1024
	// NrFixedPaddingPages is how far below MaxUserspaceVaddr the stack's
	// initial top sits.
	NrFixedPaddingPages = 7
)

// Auxv keys used by this loader.
const (
	AtNull   = 0
	AtPhdr   = 3
	AtPhent  = 4
	AtPhnum  = 5
	AtPagesz = 6
	AtEntry  = 9
	AtRandom = 25
)

// AuxPair is one (key, value) entry of the auxiliary vector.
type AuxPair struct{ Key, Value uint64 }

// AuxVec is the auxiliary vector placed on the initial user stack.
type AuxVec []AuxPair

func (a *AuxVec) Set(key, value uint64) { *a = append(*a, AuxPair{Key: key, Value: value}) }

// InitStack writes argv/envp/auxv onto a newly-mapped stack Vmo following
// the SysV AMD64-style ABI.
type InitStack struct {
	initialTop uint64
	maxSize    uint64
	pos        atomic.Uint64 // byte offset from the bottom of the stack Vmo
}

// NewInitStack reserves the stack's address range, ending NrFixedPaddingPages
// pages below MaxUserspaceVaddr.
func NewInitStack() *InitStack {
	top := MaxUserspaceVaddr - NrFixedPaddingPages*PageSize
	s := &InitStack{initialTop: top, maxSize: InitStackSize}
	s.pos.Store(InitStackSize)
	return s
}

// Clone returns a structurally identical InitStack (same initialTop and
// maxSize) with a fresh pos atomic initialized from the source's current
// value; ForkProcessVm clones the init stack this way.
func (s *InitStack) Clone() *InitStack {
	out := &InitStack{initialTop: s.initialTop, maxSize: s.maxSize}
	out.pos.Store(s.pos.Load())
	return out
}

// UserStackTop returns the current top of the stack (the address the
// consumer's stack pointer should be set to).
func (s *InitStack) UserStackTop() uint64 {
	return s.initialTop - s.maxSize + s.pos.Load()
}

type stackWriter struct {
	stack *InitStack
	vmo   *Vmo
	pos   uint64
}

// push writes data at the next-lower address and returns that address's
// vmo-relative offset.
func (w *stackWriter) push(data []byte) uint64 {
	w.pos -= uint64(len(data))
	// Stack writes never straddle beyond the reserved region by
	// construction of the build algorithm, so the write error is ignored.
	_ = w.vmo.WriteSlice(w.pos, data)
	return w.pos
}

// pushU64 realigns to an 8-byte boundary before writing, since the
// preceding argv/envp/random-byte writes can leave pos at an arbitrary
// offset.
func (w *stackWriter) pushU64(v uint64) uint64 {
	w.pos = (w.pos - 8) &^ 7
	var buf [8]byte
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	buf[4] = byte(v >> 32)
	buf[5] = byte(v >> 40)
	buf[6] = byte(v >> 48)
	buf[7] = byte(v >> 56)
	_ = w.vmo.WriteSlice(w.pos, buf[:])
	return w.pos
}

func (w *stackWriter) pushCString(s string) uint64 {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return w.push(b)
}

// MapAndWrite allocates the stack Vmo, maps it R/W into vr, and writes
// argv/envp/auxv per the SysV-style stack layout. It returns the resulting
// stack pointer address.
func (s *InitStack) MapAndWrite(vr *Vmar, alloc rt.FrameAllocator, argv, envp []string, aux AuxVec) (uint64, error) {
	if len(argv) > MaxArgvNumber || len(envp) > MaxEnvpNumber {
		return 0, errs.New(errs.E2BIG, "initstack: too many argv/envp entries")
	}
	for _, a := range argv {
		if len(a) > MaxArgLen {
			return 0, errs.New(errs.E2BIG, "initstack: argv entry too long")
		}
	}
	for _, e := range envp {
		if len(e) > MaxEnvLen {
			return 0, errs.New(errs.E2BIG, "initstack: envp entry too long")
		}
	}

	vmo := NewVmo(s.maxSize, alloc)
	mapStart := s.initialTop - s.maxSize
	if _, err := vr.NewMap(s.maxSize, PermRead|PermWrite).At(mapStart).WithVmo(vmo, 0).Build(); err != nil {
		return 0, err
	}

	w := &stackWriter{stack: s, vmo: vmo, pos: s.maxSize}

	envpPtrs := make([]uint64, len(envp))
	for i, e := range envp {
		envpPtrs[i] = mapStart + w.pushCString(e)
	}
	argvPtrs := make([]uint64, len(argv))
	for i, a := range argv {
		argvPtrs[i] = mapStart + w.pushCString(a)
	}

	randBytes := make([]byte, 16)
	randOff := w.push(randBytes)
	aux.Set(AtRandom, mapStart+randOff)

	total := 16*uint64(len(aux)+1) + 8*uint64(len(envp)+1) + 8*uint64(len(argv)+1) + 8
	w.pushU64(0)
	if (w.pos-total)%16 != 0 {
		w.pushU64(0)
	}

	// AT_NULL terminator, then each real pair; value before key so that,
	// read forward in increasing addresses, each pair appears as (key,
	// value) and the pair pushed last (lowest address) is read first.
	w.pushU64(0)
	w.pushU64(AtNull)
	for _, p := range aux {
		w.pushU64(p.Value)
		w.pushU64(p.Key)
	}

	w.pushU64(0) // envp NULL terminator
	for i := len(envpPtrs) - 1; i >= 0; i-- {
		w.pushU64(envpPtrs[i])
	}
	w.pushU64(0) // argv NULL terminator
	for i := len(argvPtrs) - 1; i >= 0; i-- {
		w.pushU64(argvPtrs[i])
	}
	w.pushU64(uint64(len(argv)))

	s.pos.Store(w.pos)
	top := s.UserStackTop()
	if top%16 != 0 {
		return 0, errs.New(errs.EINVAL, "initstack: final stack top not 16-byte aligned")
	}
	return top, nil
}
