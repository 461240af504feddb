package sizemodel

import "github.com/tinytapeout/hdlwasm/ir"

// Native is the WASM value type (if any) that natively holds a logic value
// of a given size, or NativeRef when the value is too wide and lives only
// in linear memory as a chunk array.
type Native byte

const (
	NativeI32 Native = iota
	NativeI64
	NativeRef
)

// Align is the alignment, in bytes, that the layout packer assigns to a
// state entry of a given size: min(8, next power of two of size).
func Align(size uint32) uint32 {
	a := uint32(1)
	for a < size && a < 8 {
		a <<= 1
	}
	return a
}

// SizeBytes returns the byte size of a logic type of width bits, per
// spec §4.A: 1/2/4/8 bytes up to 64 bits, then rounded up to a whole
// number of 32-bit chunks beyond that.
func SizeBytes(width int) uint32 {
	switch {
	case width <= 8:
		return 1
	case width <= 16:
		return 2
	case width <= 32:
		return 4
	case width <= 64:
		return 8
	default:
		return uint32(Chunks(width)) * 4
	}
}

// NativeOf reports which WASM value type (if any) naturally holds a value
// of the given byte size.
func NativeOf(size uint32) Native {
	switch {
	case size <= 4:
		return NativeI32
	case size == 8:
		return NativeI64
	default:
		return NativeRef
	}
}

// IsWide reports whether width bits exceeds the 64-bit native ceiling and
// must be carried as a chunk array in memory instead of a WASM local.
func IsWide(width int) bool { return width > 64 }

// Chunks returns ceil(width/32), the number of little-endian 32-bit chunks
// a wide value of the given width occupies.
func Chunks(width int) int {
	return (width + 31) / 32
}

// LastChunkMask returns the mask to apply to the most-significant chunk of
// a value of the given width so that bits above width are zero. Widths
// that are an exact multiple of 32 use the all-ones mask (nothing to
// clear in that chunk).
func LastChunkMask(width int) uint32 {
	rem := width % 32
	if rem == 0 {
		return 0xFFFFFFFF
	}
	return (uint32(1) << uint(rem)) - 1
}

// DTypeSize returns the byte size of an ir.DType, recursing through array
// element types.
func DTypeSize(t ir.DType) uint32 {
	if t.Kind == ir.KindArray {
		return DTypeSize(*t.Elem) * uint32(t.Count())
	}
	return SizeBytes(t.Width())
}

// DTypeAlign returns the alignment of an ir.DType: an array's alignment is
// its element's alignment, a logic type's is derived from its size.
func DTypeAlign(t ir.DType) uint32 {
	if t.Kind == ir.KindArray {
		return DTypeAlign(*t.Elem)
	}
	return Align(SizeBytes(t.Width()))
}
