package mm

import "unsafe"

// anyToBytes returns a byte slice viewing the memory of *ptr, for writing or
// reading a fixed-size value into a Vmo. This mirrors gvisor's go-marshal
// convention of viewing fixed-layout structs as raw bytes rather than paying
// for reflection-based encoding on every syscall argument.
func anyToBytes[T any](ptr *T) []byte {
	var zero T
	size := unsafe.Sizeof(zero)
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
}
