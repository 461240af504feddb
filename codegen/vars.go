package codegen

import (
	"github.com/tinytapeout/hdlwasm/errors"
	"github.com/tinytapeout/hdlwasm/ir"
	"github.com/tinytapeout/hdlwasm/layout"
	"github.com/tinytapeout/hdlwasm/sizemodel"
	"github.com/tinytapeout/hdlwasm/wasm"
)

func dataPtr() wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: dataPtrLocal}}
}

// addrOfVar pushes dataptr + entry.Offset and returns the variable's
// layout entry. Used for any global (state-region) variable, scalar or
// wide.
func (tr *Translator) addrOfVar(name string, line int) ([]wasm.Instruction, *layout.Entry, error) {
	entry, ok := tr.Layout.Lookup(name)
	if !ok {
		return nil, nil, errors.NotFound(errors.PhaseCodegen, "no layout entry for variable "+name)
	}
	instrs := []wasm.Instruction{dataPtr()}
	if entry.Offset != 0 {
		instrs = append(instrs,
			wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(entry.Offset)}},
			wasm.Instruction{Opcode: wasm.OpI32Add},
		)
	}
	return instrs, entry, nil
}

// addrOf computes the byte address of any addressable node: a global
// varref, or a wordsel/arraysel chain rooted in one. A varref bound to a
// WASM local has no address and is rejected; that can only happen for
// wide operands, which per the wide-codegen design never live in locals.
func (tr *Translator) addrOf(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, int, error) {
	switch e.Op {
	case "varref":
		if _, ok := scope.Lookup(e.Name); ok {
			return nil, 0, errors.Unsupported(errors.PhaseCodegen, "cannot take the address of local variable "+e.Name)
		}
		instrs, entry, err := tr.addrOfVar(e.Name, e.Line)
		if err != nil {
			return nil, 0, err
		}
		return instrs, entry.DType.Width(), nil
	case "arraysel", "wordsel":
		base, _, err := tr.addrOf(e.Base, scope)
		if err != nil {
			return nil, 0, err
		}
		elemSize := uint32(4)
		if e.Op == "arraysel" {
			elemSize = sizemodel.DTypeSize(e.Type)
		}
		idxInstrs, idxType, err := tr.emitValue(e.Index, scope)
		if err != nil {
			return nil, 0, err
		}
		idxInstrs = append(idxInstrs, upcast(idxType, wasm.ValI32, false)...)
		out := append(append([]wasm.Instruction{}, base...), idxInstrs...)
		out = append(out,
			wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(elemSize)}},
			wasm.Instruction{Opcode: wasm.OpI32Mul},
			wasm.Instruction{Opcode: wasm.OpI32Add},
		)
		return out, e.Type.Width(), nil
	default:
		return nil, 0, errors.Unsupported(errors.PhaseCodegen, "node is not addressable: "+e.Op)
	}
}

// emitLoad translates a varref used as a value (rvalue context).
func (tr *Translator) emitLoad(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	if local, ok := scope.Lookup(e.Name); ok {
		return []wasm.Instruction{{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: local.Index}}}, local.Type, nil
	}

	entry, ok := tr.Layout.Lookup(e.Name)
	if !ok {
		return nil, 0, errors.NotFound(errors.PhaseCodegen, "no layout entry for variable "+e.Name)
	}
	if sizemodel.IsWide(entry.DType.Width()) {
		return nil, 0, errors.Unsupported(errors.PhaseCodegen, "wide variable "+e.Name+" cannot be loaded as a scalar value")
	}

	addr, _, err := tr.addrOfVar(e.Name, e.Line)
	if err != nil {
		return nil, 0, err
	}
	width := entry.DType.Width()
	op, typ := loadOp(width, entry.DType.Signed)
	return append(addr, wasm.Instruction{Opcode: op, Imm: wasm.MemoryImm{}}), typ, nil
}

// loadOp picks the load opcode and resulting ValType for a scalar width.
// Everything is loaded zero-extended (the state region already holds
// masked values); sign-extension, if needed, happens explicitly via
// extends/ccast.
func loadOp(width int, signed bool) (byte, wasm.ValType) {
	switch {
	case width <= 8:
		return wasm.OpI32Load8U, wasm.ValI32
	case width <= 16:
		return wasm.OpI32Load16U, wasm.ValI32
	case width <= 32:
		return wasm.OpI32Load, wasm.ValI32
	default:
		return wasm.OpI64Load, wasm.ValI64
	}
}

func storeOp(width int) byte {
	switch {
	case width <= 8:
		return wasm.OpI32Store8
	case width <= 16:
		return wasm.OpI32Store16
	case width <= 32:
		return wasm.OpI32Store
	default:
		return wasm.OpI64Store
	}
}

// emitStoreScalar emits [addr] [masked value] store for a scalar target.
// valueInstrs must leave exactly one value of valueType on the stack.
func (tr *Translator) emitStoreScalar(target *ir.Expr, scope *FuncScope, valueInstrs []wasm.Instruction, valueType wasm.ValType) ([]wasm.Instruction, error) {
	destWidth, addr, err := tr.addrAndWidth(target, scope)
	if err != nil {
		return nil, err
	}
	destType := valType(destWidth)

	var out []wasm.Instruction
	out = append(out, addr...)
	out = append(out, valueInstrs...)
	out = append(out, upcast(valueType, destType, false)...)
	out = append(out, maskInstrs(destType, destWidth)...)
	out = append(out, wasm.Instruction{Opcode: storeOp(destWidth), Imm: wasm.MemoryImm{}})
	return out, nil
}

// addrAndWidth resolves a store target's address and declared width,
// for both plain varrefs and wordsel/arraysel targets.
func (tr *Translator) addrAndWidth(target *ir.Expr, scope *FuncScope) (int, []wasm.Instruction, error) {
	switch target.Op {
	case "varref":
		entry, ok := tr.Layout.Lookup(target.Name)
		if !ok {
			return 0, nil, errors.NotFound(errors.PhaseCodegen, "no layout entry for variable "+target.Name)
		}
		addr, _, err := tr.addrOfVar(target.Name, target.Line)
		if err != nil {
			return 0, nil, err
		}
		return entry.DType.Width(), addr, nil
	case "arraysel", "wordsel":
		addr, width, err := tr.addrOf(target, scope)
		if err != nil {
			return 0, nil, err
		}
		return width, addr, nil
	default:
		return 0, nil, errors.Unsupported(errors.PhaseCodegen, "unsupported assignment target: "+target.Op)
	}
}

// emitSelectLoad translates arraysel/wordsel used as an rvalue.
func (tr *Translator) emitSelectLoad(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	addr, width, err := tr.addrOf(e, scope)
	if err != nil {
		return nil, 0, err
	}
	op, typ := loadOp(width, e.Type.Signed)
	return append(addr, wasm.Instruction{Opcode: op, Imm: wasm.MemoryImm{}}), typ, nil
}

// emitAssign dispatches narrow (scalar) vs wide assignment per spec §4.C/4.D.
func (tr *Translator) emitAssign(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	width := e.Left.Type.Width()
	if sizemodel.IsWide(width) {
		return tr.emitWideAssign(e, scope)
	}

	// A local (block-scoped) target: a plain local.set, no masking
	// beyond what the local's own narrower type already implies.
	if e.Left.Op == "varref" {
		if local, ok := scope.Lookup(e.Left.Name); ok {
			valInstrs, valType, err := tr.emitValue(e.Right, scope)
			if err != nil {
				return nil, err
			}
			out := append(valInstrs, upcast(valType, local.Type, e.Left.Type.Signed)...)
			out = append(out, wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: local.Index}})
			return out, nil
		}
	}

	valInstrs, valType, err := tr.emitValue(e.Right, scope)
	if err != nil {
		return nil, err
	}
	return tr.emitStoreScalar(e.Left, scope, valInstrs, valType)
}
