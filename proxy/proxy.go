// Package proxy implements the host-facing state and trace access layer
// (spec §4.G): a name -> read/write pair for every variable in a module's
// layout, dispatched by declared storage width, plus a read-only view
// rooted at an arbitrary offset for walking the trace ring buffer.
//
// Grounded on the teacher's linker/internal/memory.Wrapper, which adapts
// wazero's api.Memory to the transcoder's typed Read/Write methods; this
// package generalizes that same narrow-width dispatch from "canonical ABI
// scalar" to "HDL variable of declared bit width", adding the big.Int and
// array-view cases the canonical ABI never needed.
package proxy

import (
	"fmt"
	"math/big"

	"github.com/tetratelabs/wazero/api"

	"github.com/tinytapeout/hdlwasm/errors"
	"github.com/tinytapeout/hdlwasm/ir"
	"github.com/tinytapeout/hdlwasm/layout"
	"github.com/tinytapeout/hdlwasm/sizemodel"
)

// Proxy is a read/write view over one region of a generated module's
// linear memory, addressed relative to base. The live-state view uses
// base 0; a trace-ring view uses AtOffset to relocate reads to a ring
// slot without duplicating the width-dispatch logic below.
type Proxy struct {
	mem  api.Memory
	lay  *layout.Struct
	base uint32
}

// New returns a proxy over the module's own state region (spec §4.G: "base
// address is either 0 ... or a caller-supplied offset").
func New(mem api.Memory, lay *layout.Struct) *Proxy {
	return &Proxy{mem: mem, lay: lay}
}

// AtOffset returns a proxy over the same memory relocated to base, used to
// read one trace-ring record.
func (p *Proxy) AtOffset(base uint32) *Proxy {
	return &Proxy{mem: p.mem, lay: p.lay, base: base}
}

// Lookup mirrors the host-facing globals.lookup(name) -> {offset, size,
// dtype} API from spec §6.
func (p *Proxy) Lookup(name string) (*layout.Entry, error) {
	e, ok := p.lay.Lookup(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "globals.lookup: unknown variable "+name)
	}
	return e, nil
}

// Get reads name's current value. Per the width table in spec §4.G: u8/
// u16/u32 for 1/2/4-byte scalars, uint64 for 8-byte scalars, *big.Int
// (masked to the declared width) for anything wider, and a []byte window
// directly over linear memory for array entries — mutating the returned
// slice mutates the instance's memory in place, the same aliasing the
// teacher's Wrapper.Read gives canonical-ABI callers.
func (p *Proxy) Get(name string) (any, error) {
	e, err := p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return p.read(e)
}

// Word64 returns an 8-byte entry as a (low, high) u32 pair, the "typed
// 2-word view" alternative the spec offers alongside the 64-bit-integer
// form Get already returns for size-8 entries.
func (p *Proxy) Word64(name string) (low, high uint32, err error) {
	e, err := p.Lookup(name)
	if err != nil {
		return 0, 0, err
	}
	if e.Size != 8 {
		return 0, 0, errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("%s: Word64 requires an 8-byte entry, got %d bytes", name, e.Size))
	}
	addr := p.base + e.Offset
	lo, ok := p.mem.ReadUint32Le(addr)
	if !ok {
		return 0, 0, p.oob(name, addr, 8)
	}
	hi, ok := p.mem.ReadUint32Le(addr + 4)
	if !ok {
		return 0, 0, p.oob(name, addr, 8)
	}
	return lo, hi, nil
}

func (p *Proxy) read(e *layout.Entry) (any, error) {
	addr := p.base + e.Offset
	if e.DType.Kind == ir.KindArray {
		data, ok := p.mem.Read(addr, e.Size)
		if !ok {
			return nil, p.oob(e.Name, addr, e.Size)
		}
		return data, nil
	}
	switch e.Size {
	case 1:
		v, ok := p.mem.ReadByte(addr)
		if !ok {
			return nil, p.oob(e.Name, addr, 1)
		}
		return v, nil
	case 2:
		v, ok := p.mem.ReadUint16Le(addr)
		if !ok {
			return nil, p.oob(e.Name, addr, 2)
		}
		return v, nil
	case 4:
		v, ok := p.mem.ReadUint32Le(addr)
		if !ok {
			return nil, p.oob(e.Name, addr, 4)
		}
		return v, nil
	case 8:
		v, ok := p.mem.ReadUint64Le(addr)
		if !ok {
			return nil, p.oob(e.Name, addr, 8)
		}
		return v, nil
	default:
		return p.readWide(addr, e)
	}
}

func (p *Proxy) readWide(addr uint32, e *layout.Entry) (*big.Int, error) {
	v := new(big.Int)
	for i := e.Chunks - 1; i >= 0; i-- {
		chunk, ok := p.mem.ReadUint32Le(addr + uint32(i*4))
		if !ok {
			return nil, p.oob(e.Name, addr, e.Size)
		}
		v.Lsh(v, 32)
		v.Or(v, new(big.Int).SetUint64(uint64(chunk)))
	}
	return maskWidth(v, e.DType.Width()), nil
}

// Set writes value into name's slot, masked to the declared width per
// spec §4.G. value may be any Go integer type or *big.Int/big.Int; array
// entries accept only a []byte of exactly the entry's size, written
// in place.
func (p *Proxy) Set(name string, value any) error {
	e, err := p.Lookup(name)
	if err != nil {
		return err
	}
	addr := p.base + e.Offset

	if e.DType.Kind == ir.KindArray {
		data, ok := value.([]byte)
		if !ok || uint32(len(data)) != e.Size {
			return errors.InvalidInput(errors.PhaseRuntime,
				fmt.Sprintf("set %s: array write requires exactly %d bytes", name, e.Size))
		}
		if !p.mem.Write(addr, data) {
			return p.oob(name, addr, e.Size)
		}
		return nil
	}

	if e.Size <= 8 {
		u, err := toUint64(value)
		if err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
		u &= maskUint64(e.DType.Width())
		return p.writeNarrow(name, addr, e.Size, u)
	}
	return p.writeWide(name, addr, e, value)
}

func (p *Proxy) writeNarrow(name string, addr, size uint32, u uint64) error {
	var ok bool
	switch size {
	case 1:
		ok = p.mem.WriteByte(addr, uint8(u))
	case 2:
		ok = p.mem.WriteUint16Le(addr, uint16(u))
	case 4:
		ok = p.mem.WriteUint32Le(addr, uint32(u))
	case 8:
		ok = p.mem.WriteUint64Le(addr, u)
	}
	if !ok {
		return p.oob(name, addr, size)
	}
	return nil
}

func (p *Proxy) writeWide(name string, addr uint32, e *layout.Entry, value any) error {
	var v *big.Int
	switch x := value.(type) {
	case *big.Int:
		v = x
	case big.Int:
		v = &x
	default:
		u, err := toUint64(x)
		if err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
		v = new(big.Int).SetUint64(u)
	}
	v = maskWidth(v, e.DType.Width())

	mask32 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 32), big.NewInt(1))
	rem := new(big.Int).Set(v)
	for i := 0; i < e.Chunks; i++ {
		chunk := new(big.Int).And(rem, mask32)
		if !p.mem.WriteUint32Le(addr+uint32(i*4), uint32(chunk.Uint64())) {
			return p.oob(name, addr, e.Size)
		}
		rem.Rsh(rem, 32)
	}
	return nil
}

// SetElem writes value into array entry name at the given element index,
// used by runtime.Core.Powercycle to apply the frontend's per-element
// initial-value list (spec §4.F). Multidimensional arrays (an element
// type that is itself an array) are rejected, per spec's explicit
// "multidimensional init is unsupported" edge case.
func (p *Proxy) SetElem(name string, index int, value any) error {
	e, err := p.Lookup(name)
	if err != nil {
		return err
	}
	if e.DType.Kind != ir.KindArray {
		return errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("%s: SetElem requires an array entry", name))
	}
	if e.DType.Elem.Kind == ir.KindArray {
		return errors.UnsupportedDataType("init", 0, fmt.Sprintf("%s: multidimensional array initial values are unsupported", name))
	}
	if index < 0 || index >= e.DType.Count() {
		return errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("%s: element index %d out of range", name, index))
	}
	elemSize := sizemodel.DTypeSize(*e.DType.Elem)
	addr := p.base + e.Offset + uint32(index)*elemSize
	u, err := toUint64(value)
	if err != nil {
		return fmt.Errorf("set %s[%d]: %w", name, index, err)
	}
	u &= maskUint64(e.DType.Elem.Width())
	return p.writeNarrow(name, addr, elemSize, u)
}

func (p *Proxy) oob(name string, addr, size uint32) error {
	return errors.InvalidInput(errors.PhaseRuntime,
		fmt.Sprintf("%s: memory access out of bounds at offset=%d size=%d", name, addr, size))
}

func toUint64(value any) (uint64, error) {
	switch v := value.(type) {
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case uint64:
		return v, nil
	case int:
		return uint64(v), nil
	case int8:
		return uint64(uint8(v)), nil
	case int16:
		return uint64(uint16(v)), nil
	case int32:
		return uint64(uint32(v)), nil
	case int64:
		return uint64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case *big.Int:
		return v.Uint64(), nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", value)
	}
}

func maskUint64(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(width)) - 1
}

func maskWidth(v *big.Int, width int) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), uint(width))
	mask.Sub(mask, big.NewInt(1))
	return new(big.Int).And(v, mask)
}
