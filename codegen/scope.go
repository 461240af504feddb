package codegen

import "github.com/tinytapeout/hdlwasm/wasm"

// Local names one WASM local: its index in the function's local index
// space (params first, then declared locals) and its value type.
type Local struct {
	Type  wasm.ValType
	Index uint32
}

// FuncScope tracks one function's local index space while a block is
// being translated: the data-pointer parameter, locals promoted from
// VarDecls in the block body, and anonymous scratch locals the wide
// codegen needs ($carry, $sum, $left, $borrow, loop counters).
type FuncScope struct {
	named  map[string]Local
	types  []wasm.ValType // declared locals only, in allocation order
	params uint32
}

// NewFuncScope starts a scope with the given parameter types already
// occupying local indices 0..len(params)-1.
func NewFuncScope(params []wasm.ValType) *FuncScope {
	return &FuncScope{
		named:  make(map[string]Local),
		params: uint32(len(params)),
	}
}

// BindParam associates name (e.g. "$dataptr") with parameter index idx.
func (s *FuncScope) BindParam(name string, idx uint32, typ wasm.ValType) {
	s.named[name] = Local{Index: idx, Type: typ}
}

// Lookup returns the local bound to name, if any.
func (s *FuncScope) Lookup(name string) (Local, bool) {
	l, ok := s.named[name]
	return l, ok
}

// Named returns the local bound to name, allocating a fresh one of typ
// if this is the first reference. Used for VarDecls promoted to locals
// and for per-function scratch temporaries that must not be re-declared
// if referenced twice in the same block (e.g. two wide adds sharing
// $carry).
func (s *FuncScope) Named(name string, typ wasm.ValType) Local {
	if l, ok := s.named[name]; ok {
		return l
	}
	idx := s.params + uint32(len(s.types))
	s.types = append(s.types, typ)
	l := Local{Index: idx, Type: typ}
	s.named[name] = l
	return l
}

// Temp allocates a fresh, uniquely-named scratch local of typ. Used for
// loop counters and other locals that must not collide even when a
// block contains more than one of the same shape of loop.
func (s *FuncScope) Temp(typ wasm.ValType) Local {
	idx := s.params + uint32(len(s.types))
	s.types = append(s.types, typ)
	return Local{Index: idx, Type: typ}
}

// Locals renders the accumulated declared locals as WASM LocalEntry
// groups, collapsing consecutive runs of the same type.
func (s *FuncScope) Locals() []wasm.LocalEntry {
	var out []wasm.LocalEntry
	for _, t := range s.types {
		if n := len(out); n > 0 && out[n-1].ValType == t {
			out[n-1].Count++
			continue
		}
		out = append(out, wasm.LocalEntry{ValType: t, Count: 1})
	}
	return out
}
