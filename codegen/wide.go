package codegen

import (
	"math/big"

	"github.com/tinytapeout/hdlwasm/errors"
	"github.com/tinytapeout/hdlwasm/ir"
	"github.com/tinytapeout/hdlwasm/sizemodel"
	"github.com/tinytapeout/hdlwasm/wasm"
)

// Wide-integer codegen (operand width > 64, spec §4.D). A wide value lives
// only in linear memory as an array of little-endian 32-bit chunks; these
// routines never leave a wide value on the WASM stack or in a local, only
// chunk addresses and individual 32-bit chunk values do. A wide
// subexpression is required to be a direct variable/array reference —
// nested wide subexpressions (e.g. "(a+b)-c" with no intermediate named
// temporary) are outside this core's scope and rejected with
// UnsupportedDataType; the frontend is expected to flatten wide
// expressions into a chain of assignments to temporaries, the same way
// it resolves blocking/non-blocking timing into separate blocks.

func chunkAddr(addr []wasm.Instruction, idx int) []wasm.Instruction {
	out := append([]wasm.Instruction{}, addr...)
	if idx != 0 {
		out = append(out,
			wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(idx * 4)}},
			wasm.Instruction{Opcode: wasm.OpI32Add},
		)
	}
	return out
}

func i32c(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func loadChunk(addr []wasm.Instruction, idx int) []wasm.Instruction {
	out := chunkAddr(addr, idx)
	return append(out, wasm.Instruction{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{}})
}

func storeChunk(addr []wasm.Instruction, idx int, value []wasm.Instruction) []wasm.Instruction {
	out := chunkAddr(addr, idx)
	out = append(out, value...)
	return append(out, wasm.Instruction{Opcode: wasm.OpI32Store, Imm: wasm.MemoryImm{}})
}

// wideOperandAddr resolves the address of a wide binary/unary operand,
// which must be a direct reference (see file doc comment).
func (tr *Translator) wideOperandAddr(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	switch e.Op {
	case "varref", "arraysel", "wordsel":
		addr, _, err := tr.addrOf(e, scope)
		return addr, err
	default:
		return nil, errors.Unsupported(errors.PhaseCodegen, "wide operand must be a direct variable reference, got "+e.Op)
	}
}

func wideMaskLastChunk(dst []wasm.Instruction, n, width int) []wasm.Instruction {
	mask := sizemodel.LastChunkMask(width)
	if mask == 0xFFFFFFFF {
		return nil
	}
	last := loadChunk(dst, n-1)
	last = append(last, i32c(int32(mask)), wasm.Instruction{Opcode: wasm.OpI32And})
	return storeChunk(dst, n-1, last)
}

// emitWideAssign dispatches a wide ("width > 64") assignment by the
// shape of its right-hand side.
func (tr *Translator) emitWideAssign(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	dstAddr, width, err := tr.addrOf(e.Left, scope)
	if err != nil {
		return nil, err
	}
	n := sizemodel.Chunks(width)
	rhs := e.Right

	switch rhs.Op {
	case "const":
		return tr.wideAssignConst(dstAddr, n, rhs), nil
	case "varref", "arraysel", "wordsel":
		srcAddr, err := tr.wideOperandAddr(rhs, scope)
		if err != nil {
			return nil, err
		}
		return wideCopy(dstAddr, srcAddr, n), nil
	case "and", "or", "xor":
		return tr.wideBitwise(rhs.Op, dstAddr, n, rhs.Left, rhs.Right, scope)
	case "add":
		return tr.wideAdd(dstAddr, n, rhs.Left, rhs.Right, scope)
	case "sub":
		return tr.wideSub(dstAddr, n, rhs.Left, rhs.Right, scope)
	case "shl":
		return tr.wideShiftLeft(dstAddr, n, width, rhs.Left, rhs.Right, scope)
	case "shr_u", "shr_s":
		return tr.wideShiftRight(dstAddr, n, width, rhs.Left, rhs.Right, rhs.Op == "shr_s", scope)
	case "not":
		return tr.wideNot(dstAddr, n, rhs.Left, scope)
	case "negate":
		return tr.wideNegate(dstAddr, n, rhs.Left, scope)
	case "cond":
		return tr.wideCond(dstAddr, n, rhs, scope)
	case "mul", "mul_s", "div", "div_s", "moddiv", "moddiv_s":
		return nil, errors.UnsupportedDataType(rhs.Op, rhs.Line, "wide "+rhs.Op+" is unsupported")
	default:
		return nil, errors.UnknownOperator(rhs.Op, rhs.Line)
	}
}

func (tr *Translator) wideAssignConst(dst []wasm.Instruction, n int, e *ir.Expr) []wasm.Instruction {
	var val *big.Int
	if e.HasBig && e.BigValue != nil {
		val = e.BigValue
	} else {
		val = big.NewInt(int64(e.CValue))
	}
	mask32 := big.NewInt(0xFFFFFFFF)
	var out []wasm.Instruction
	for i := 0; i < n; i++ {
		chunk := new(big.Int).Rsh(val, uint(i*32))
		chunk.And(chunk, mask32)
		out = append(out, storeChunk(dst, i, []wasm.Instruction{i32c(int32(chunk.Uint64()))})...)
	}
	return out
}

func wideCopy(dst, src []wasm.Instruction, n int) []wasm.Instruction {
	var out []wasm.Instruction
	for i := 0; i < n; i++ {
		out = append(out, storeChunk(dst, i, loadChunk(src, i))...)
	}
	return out
}

var wideBitwiseOp = map[string]byte{"and": wasm.OpI32And, "or": wasm.OpI32Or, "xor": wasm.OpI32Xor}

func (tr *Translator) wideBitwise(op string, dst []wasm.Instruction, n int, le, re *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	l, err := tr.wideOperandAddr(le, scope)
	if err != nil {
		return nil, err
	}
	r, err := tr.wideOperandAddr(re, scope)
	if err != nil {
		return nil, err
	}
	wop := wideBitwiseOp[op]
	var out []wasm.Instruction
	for i := 0; i < n; i++ {
		value := append(loadChunk(l, i), loadChunk(r, i)...)
		value = append(value, wasm.Instruction{Opcode: wop})
		out = append(out, storeChunk(dst, i, value)...)
	}
	return out, nil
}

// wideAdd implements the chunk-wise add with carry from spec §4.D.
func (tr *Translator) wideAdd(dst []wasm.Instruction, n int, le, re *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	l, err := tr.wideOperandAddr(le, scope)
	if err != nil {
		return nil, err
	}
	r, err := tr.wideOperandAddr(re, scope)
	if err != nil {
		return nil, err
	}

	carry := scope.Named("$carry", wasm.ValI32)
	left := scope.Named("$left", wasm.ValI32)
	sum := scope.Named("$sum", wasm.ValI32)
	ovf1 := scope.Named("$ovf1", wasm.ValI32)

	out := []wasm.Instruction{i32c(0), {Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: carry.Index}}}

	for i := 0; i < n; i++ {
		out = append(out, loadChunk(l, i)...)
		out = append(out, wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: left.Index}})

		out = append(out, wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: left.Index}})
		out = append(out, loadChunk(r, i)...)
		out = append(out, wasm.Instruction{Opcode: wasm.OpI32Add})
		out = append(out, wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: sum.Index}})

		last := i == n-1
		if !last {
			out = append(out,
				wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: sum.Index}},
				wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: left.Index}},
				wasm.Instruction{Opcode: wasm.OpI32LtU},
				wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: ovf1.Index}},
			)
		}

		out = append(out,
			wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: sum.Index}},
			wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: carry.Index}},
			wasm.Instruction{Opcode: wasm.OpI32Add},
			wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: sum.Index}},
		)

		out = append(out, storeChunk(dst, i, []wasm.Instruction{{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: sum.Index}}})...)

		if !last {
			out = append(out,
				wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: sum.Index}},
				wasm.Instruction{Opcode: wasm.OpI32Eqz},
				wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: carry.Index}},
				i32c(1),
				wasm.Instruction{Opcode: wasm.OpI32Eq},
				wasm.Instruction{Opcode: wasm.OpI32And},
				wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: ovf1.Index}},
				wasm.Instruction{Opcode: wasm.OpI32Or},
				wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: carry.Index}},
			)
		}
	}
	return out, nil
}

// wideSub mirrors wideAdd with a borrow chain.
func (tr *Translator) wideSub(dst []wasm.Instruction, n int, le, re *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	l, err := tr.wideOperandAddr(le, scope)
	if err != nil {
		return nil, err
	}
	r, err := tr.wideOperandAddr(re, scope)
	if err != nil {
		return nil, err
	}

	borrow := scope.Named("$borrow", wasm.ValI32)
	left := scope.Named("$left", wasm.ValI32)
	right := scope.Named("$right", wasm.ValI32)
	diff := scope.Named("$diff", wasm.ValI32)
	bor1 := scope.Named("$bor1", wasm.ValI32)

	out := []wasm.Instruction{i32c(0), {Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: borrow.Index}}}

	for i := 0; i < n; i++ {
		out = append(out, loadChunk(l, i)...)
		out = append(out, wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: left.Index}})
		out = append(out, loadChunk(r, i)...)
		out = append(out, wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: right.Index}})

		last := i == n-1
		if !last {
			out = append(out,
				wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: left.Index}},
				wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: right.Index}},
				wasm.Instruction{Opcode: wasm.OpI32LtU},
				wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: bor1.Index}},
			)
		}

		out = append(out,
			wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: left.Index}},
			wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: right.Index}},
			wasm.Instruction{Opcode: wasm.OpI32Sub},
			wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: borrow.Index}},
			wasm.Instruction{Opcode: wasm.OpI32Sub},
			wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: diff.Index}},
		)

		out = append(out, storeChunk(dst, i, []wasm.Instruction{{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: diff.Index}}})...)

		if !last {
			out = append(out,
				wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: diff.Index}},
				wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: borrow.Index}},
				wasm.Instruction{Opcode: wasm.OpI32Add},
				wasm.Instruction{Opcode: wasm.OpI32Eqz},
				wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: borrow.Index}},
				wasm.Instruction{Opcode: wasm.OpI32And},
				wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: bor1.Index}},
				wasm.Instruction{Opcode: wasm.OpI32Or},
				wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: borrow.Index}},
			)
		}
	}
	return out, nil
}

func constAmount(e *ir.Expr) (int, bool) {
	if e.Op != "const" {
		return 0, false
	}
	if e.HasBig && e.BigValue != nil {
		return int(e.BigValue.Int64()), true
	}
	return int(e.CValue), true
}

// wideShiftLeft implements the constant- and variable-amount left shift
// from spec §4.D, processing MSB->LSB so dest==source aliasing is safe.
func (tr *Translator) wideShiftLeft(dst []wasm.Instruction, n, width int, srcE, amtE *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	src, err := tr.wideOperandAddr(srcE, scope)
	if err != nil {
		return nil, err
	}

	var out []wasm.Instruction
	if amt, ok := constAmount(amtE); ok {
		cs, bs := amt/32, amt%32
		for i := n - 1; i >= 0; i-- {
			srcIdx := i - cs
			switch {
			case srcIdx < 0:
				out = append(out, storeChunk(dst, i, []wasm.Instruction{i32c(0)})...)
			case bs == 0:
				out = append(out, storeChunk(dst, i, loadChunk(src, srcIdx))...)
			default:
				val := append(loadChunk(src, srcIdx), i32c(int32(bs)), wasm.Instruction{Opcode: wasm.OpI32Shl})
				if srcIdx > 0 {
					hi := append(loadChunk(src, srcIdx-1), i32c(int32(32-bs)), wasm.Instruction{Opcode: wasm.OpI32ShrU})
					val = append(val, hi...)
					val = append(val, wasm.Instruction{Opcode: wasm.OpI32Or})
				}
				out = append(out, storeChunk(dst, i, val)...)
			}
		}
		out = append(out, wideMaskLastChunk(dst, n, width)...)
		return out, nil
	}

	out, err = tr.wideShiftLeftVar(dst, src, n, amtE, scope)
	if err != nil {
		return nil, err
	}
	out = append(out, wideMaskLastChunk(dst, n, width)...)
	return out, nil
}

// ifElseI32 builds a WASM if/else with an i32 result.
func ifElseI32(cond, then, els []wasm.Instruction) []wasm.Instruction {
	out := append([]wasm.Instruction{}, cond...)
	out = append(out, wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeI32}})
	out = append(out, then...)
	out = append(out, wasm.Instruction{Opcode: wasm.OpElse})
	out = append(out, els...)
	out = append(out, wasm.Instruction{Opcode: wasm.OpEnd})
	return out
}

func (tr *Translator) splitShiftAmount(amtE *ir.Expr, scope *FuncScope) ([]wasm.Instruction, Local, Local, error) {
	amtInstrs, amtType, err := tr.emitValue(amtE, scope)
	if err != nil {
		return nil, Local{}, Local{}, err
	}
	amt := scope.Named("$shamt", wasm.ValI32)
	cs := scope.Named("$cs", wasm.ValI32)
	bs := scope.Named("$bs", wasm.ValI32)

	out := append(append([]wasm.Instruction{}, amtInstrs...), upcast(amtType, wasm.ValI32, false)...)
	out = append(out, wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: amt.Index}})
	out = append(out,
		wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: amt.Index}},
		i32c(5), wasm.Instruction{Opcode: wasm.OpI32ShrU},
		wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: cs.Index}},
		wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: amt.Index}},
		i32c(31), wasm.Instruction{Opcode: wasm.OpI32And},
		wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: bs.Index}},
	)
	return out, cs, bs, nil
}

func localGet(l Local) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: l.Index}}
}
func localSet(l Local) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: l.Index}}
}

// wideShiftLeftVar handles a runtime shift amount. Chunk count n is a
// compile-time constant, so the chunk loop is fully unrolled; only the
// chunk/bit split (cs/bs) and the source index are runtime values.
func (tr *Translator) wideShiftLeftVar(dst, src []wasm.Instruction, n int, amtE *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	prelude, cs, bs, err := tr.splitShiftAmount(amtE, scope)
	if err != nil {
		return nil, err
	}
	srcIdx := scope.Named("$srcidx", wasm.ValI32)

	out := append([]wasm.Instruction{}, prelude...)
	for i := n - 1; i >= 0; i-- {
		out = append(out, i32c(int32(i)), localGet(cs), wasm.Instruction{Opcode: wasm.OpI32Sub}, localSet(srcIdx))

		value := ifElseI32(
			[]wasm.Instruction{localGet(srcIdx), i32c(0), {Opcode: wasm.OpI32LtS}},
			[]wasm.Instruction{i32c(0)},
			ifElseI32(
				[]wasm.Instruction{localGet(bs), i32c(0), {Opcode: wasm.OpI32Eq}},
				loadDynamicChunk(src, srcIdx),
				func() []wasm.Instruction {
					shl := append(loadDynamicChunk(src, srcIdx), localGet(bs), wasm.Instruction{Opcode: wasm.OpI32Shl})
					hi := ifElseI32(
						[]wasm.Instruction{localGet(srcIdx), i32c(0), {Opcode: wasm.OpI32GtS}},
						append(loadDynamicChunkOffset(src, srcIdx, -1), i32c(32), localGet(bs), wasm.Instruction{Opcode: wasm.OpI32Sub}, wasm.Instruction{Opcode: wasm.OpI32ShrU}),
						[]wasm.Instruction{i32c(0)},
					)
					return append(append(shl, hi...), wasm.Instruction{Opcode: wasm.OpI32Or})
				}(),
			),
		)
		out = append(out, storeChunk(dst, i, value)...)
	}
	return out, nil
}

// loadDynamicChunk loads the 32-bit chunk at runtime index idxLocal from
// base (base + idxLocal*4).
func loadDynamicChunk(base []wasm.Instruction, idxLocal Local) []wasm.Instruction {
	out := append([]wasm.Instruction{}, base...)
	out = append(out, localGet(idxLocal), i32c(2), wasm.Instruction{Opcode: wasm.OpI32Shl}, wasm.Instruction{Opcode: wasm.OpI32Add})
	return append(out, wasm.Instruction{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{}})
}

// loadDynamicChunkOffset loads the chunk at idxLocal+delta (delta a small
// compile-time constant, e.g. -1 or +1).
func loadDynamicChunkOffset(base []wasm.Instruction, idxLocal Local, delta int) []wasm.Instruction {
	out := append([]wasm.Instruction{}, base...)
	out = append(out, localGet(idxLocal))
	if delta != 0 {
		out = append(out, i32c(int32(delta)), wasm.Instruction{Opcode: wasm.OpI32Add})
	}
	out = append(out, i32c(2), wasm.Instruction{Opcode: wasm.OpI32Shl}, wasm.Instruction{Opcode: wasm.OpI32Add})
	return append(out, wasm.Instruction{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{}})
}

// wideShiftRight implements the constant- and variable-amount right
// shift, unsigned or signed, processing LSB->MSB.
func (tr *Translator) wideShiftRight(dst []wasm.Instruction, n, width int, srcE, amtE *ir.Expr, signed bool, scope *FuncScope) ([]wasm.Instruction, error) {
	src, err := tr.wideOperandAddr(srcE, scope)
	if err != nil {
		return nil, err
	}

	signFill := func() []wasm.Instruction {
		if !signed {
			return []wasm.Instruction{i32c(0)}
		}
		return append(loadChunk(src, n-1), i32c(31), wasm.Instruction{Opcode: wasm.OpI32ShrS})
	}

	if amt, ok := constAmount(amtE); ok {
		cs, bs := amt/32, amt%32
		var out []wasm.Instruction
		for i := 0; i < n; i++ {
			srcIdx := i + cs
			switch {
			case srcIdx >= n:
				out = append(out, storeChunk(dst, i, signFill())...)
			case bs == 0:
				out = append(out, storeChunk(dst, i, loadChunk(src, srcIdx))...)
			default:
				shrOp := byte(wasm.OpI32ShrU)
				low := append(loadChunk(src, srcIdx), i32c(int32(bs)), wasm.Instruction{Opcode: shrOp})
				var hi []wasm.Instruction
				if srcIdx+1 < n {
					hi = append(loadChunk(src, srcIdx+1), i32c(int32(32-bs)), wasm.Instruction{Opcode: wasm.OpI32Shl})
				} else {
					hi = append(signFill(), i32c(int32(32-bs)), wasm.Instruction{Opcode: wasm.OpI32Shl})
				}
				val := append(low, hi...)
				val = append(val, wasm.Instruction{Opcode: wasm.OpI32Or})
				out = append(out, storeChunk(dst, i, val)...)
			}
		}
		out = append(out, wideMaskLastChunk(dst, n, width)...)
		return out, nil
	}

	prelude, cs, bs, err := tr.splitShiftAmount(amtE, scope)
	if err != nil {
		return nil, err
	}
	srcIdx := scope.Named("$srcidx", wasm.ValI32)
	out := append([]wasm.Instruction{}, prelude...)

	for i := 0; i < n; i++ {
		out = append(out, i32c(int32(i)), localGet(cs), wasm.Instruction{Opcode: wasm.OpI32Add}, localSet(srcIdx))

		value := ifElseI32(
			[]wasm.Instruction{localGet(srcIdx), i32c(int32(n)), {Opcode: wasm.OpI32GeS}},
			signFillRuntime(src, n, signed),
			ifElseI32(
				[]wasm.Instruction{localGet(bs), i32c(0), {Opcode: wasm.OpI32Eq}},
				loadDynamicChunk(src, srcIdx),
				func() []wasm.Instruction {
					low := append(loadDynamicChunk(src, srcIdx), localGet(bs), wasm.Instruction{Opcode: wasm.OpI32ShrU})
					hi := ifElseI32(
						[]wasm.Instruction{localGet(srcIdx), i32c(int32(n - 1)), {Opcode: wasm.OpI32LtS}},
						append(loadDynamicChunkOffset(src, srcIdx, 1), i32c(32), localGet(bs), wasm.Instruction{Opcode: wasm.OpI32Sub}, wasm.Instruction{Opcode: wasm.OpI32Shl}),
						append(signFillRuntime(src, n, signed), i32c(32), localGet(bs), wasm.Instruction{Opcode: wasm.OpI32Sub}, wasm.Instruction{Opcode: wasm.OpI32Shl}),
					)
					return append(append(low, hi...), wasm.Instruction{Opcode: wasm.OpI32Or})
				}(),
			),
		)
		out = append(out, storeChunk(dst, i, value)...)
	}
	out = append(out, wideMaskLastChunk(dst, n, width)...)
	return out, nil
}

func signFillRuntime(src []wasm.Instruction, n int, signed bool) []wasm.Instruction {
	if !signed {
		return []wasm.Instruction{i32c(0)}
	}
	return append(loadChunk(src, n-1), i32c(31), wasm.Instruction{Opcode: wasm.OpI32ShrS})
}

// wideNot implements chunk-wise XOR with 0xFFFFFFFF.
func (tr *Translator) wideNot(dst []wasm.Instruction, n int, le *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	l, err := tr.wideOperandAddr(le, scope)
	if err != nil {
		return nil, err
	}
	var out []wasm.Instruction
	for i := 0; i < n; i++ {
		val := append(loadChunk(l, i), i32c(-1), wasm.Instruction{Opcode: wasm.OpI32Xor})
		out = append(out, storeChunk(dst, i, val)...)
	}
	return out, nil
}

// wideNegate implements wide negate as not + 1 with carry propagation.
func (tr *Translator) wideNegate(dst []wasm.Instruction, n int, le *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	notted, err := tr.wideNot(dst, n, le, scope)
	if err != nil {
		return nil, err
	}
	carry := scope.Named("$carry", wasm.ValI32)
	sum := scope.Named("$sum", wasm.ValI32)
	ovf1 := scope.Named("$ovf1", wasm.ValI32)

	out := append([]wasm.Instruction{}, notted...)
	out = append(out, i32c(1), localSet(carry))
	for i := 0; i < n; i++ {
		last := i == n-1
		out = append(out, loadChunk(dst, i)...)
		out = append(out, localGet(carry), wasm.Instruction{Opcode: wasm.OpI32Add}, localSet(sum))
		if !last {
			out = append(out, localGet(sum), i32c(0), wasm.Instruction{Opcode: wasm.OpI32Eq}, localGet(carry), wasm.Instruction{Opcode: wasm.OpI32And}, localSet(ovf1))
		}
		out = append(out, storeChunk(dst, i, []wasm.Instruction{localGet(sum)})...)
		if !last {
			out = append(out, localGet(ovf1), localSet(carry))
		}
	}
	return out, nil
}

// wideCond evaluates the (scalar) condition then copies chunk-by-chunk
// from whichever side is selected.
func (tr *Translator) wideCond(dst []wasm.Instruction, n int, e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	condInstrs, condType, err := tr.emitValue(e.Cond, scope)
	if err != nil {
		return nil, err
	}
	thenAddr, err := tr.wideOperandAddr(e.Then, scope)
	if err != nil {
		return nil, err
	}
	elseAddr, err := tr.wideOperandAddr(e.Else, scope)
	if err != nil {
		return nil, err
	}

	out := append([]wasm.Instruction{}, condInstrs...)
	out = append(out, boolify(condType)...)
	out = append(out, wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}})
	out = append(out, wideCopy(dst, thenAddr, n)...)
	out = append(out, wasm.Instruction{Opcode: wasm.OpElse})
	out = append(out, wideCopy(dst, elseAddr, n)...)
	out = append(out, wasm.Instruction{Opcode: wasm.OpEnd})
	return out, nil
}

// emitWideCompare implements the reduce-AND/OR equality and the nested
// select-chain ordering comparison from spec §4.D, returning a scalar i32.
func (tr *Translator) emitWideCompare(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	l, err := tr.wideOperandAddr(e.Left, scope)
	if err != nil {
		return nil, 0, err
	}
	r, err := tr.wideOperandAddr(e.Right, scope)
	if err != nil {
		return nil, 0, err
	}
	n := sizemodel.Chunks(e.Left.Type.Width())
	signed := e.Left.Type.Signed || e.Right.Type.Signed

	switch e.Op {
	case "eq":
		var out []wasm.Instruction
		for i := 0; i < n; i++ {
			chunkEq := append(loadChunk(l, i), loadChunk(r, i)...)
			chunkEq = append(chunkEq, wasm.Instruction{Opcode: wasm.OpI32Eq})
			if i == 0 {
				out = chunkEq
			} else {
				out = append(out, chunkEq...)
				out = append(out, wasm.Instruction{Opcode: wasm.OpI32And})
			}
		}
		return out, wasm.ValI32, nil
	case "neq":
		var out []wasm.Instruction
		for i := 0; i < n; i++ {
			chunkNe := append(loadChunk(l, i), loadChunk(r, i)...)
			chunkNe = append(chunkNe, wasm.Instruction{Opcode: wasm.OpI32Ne})
			if i == 0 {
				out = chunkNe
			} else {
				out = append(out, chunkNe...)
				out = append(out, wasm.Instruction{Opcode: wasm.OpI32Or})
			}
		}
		return out, wasm.ValI32, nil
	case "lt", "gt", "lte", "gte":
		// lte/gte derive from gt/lt by negation, per spec §4.D.
		baseOp := e.Op
		switch baseOp {
		case "lte":
			baseOp = "gt"
		case "gte":
			baseOp = "lt"
		}

		acc := []wasm.Instruction{i32c(0)}
		for i := 0; i < n; i++ {
			top := i == n-1
			ltOp, gtOp := byte(wasm.OpI32LtU), byte(wasm.OpI32GtU)
			if top && signed {
				ltOp, gtOp = wasm.OpI32LtS, wasm.OpI32GtS
			}
			ltChunk := append(loadChunk(l, i), loadChunk(r, i)...)
			ltChunk = append(ltChunk, wasm.Instruction{Opcode: ltOp})
			gtChunk := append(loadChunk(l, i), loadChunk(r, i)...)
			gtChunk = append(gtChunk, wasm.Instruction{Opcode: gtOp})

			favored, opposed := ltChunk, gtChunk
			if baseOp == "gt" {
				favored, opposed = gtChunk, ltChunk
			}

			// select(val1, val2, cond) == cond!=0 ? val1 : val2.
			// inner  = select(opposed, 0, acc)
			inner := append([]wasm.Instruction{i32c(0)}, acc...)
			inner = append(inner, opposed...)
			inner = append(inner, wasm.Instruction{Opcode: wasm.OpSelect})
			// outer = select(favored, 1, inner)
			outer := append([]wasm.Instruction{i32c(1)}, inner...)
			outer = append(outer, favored...)
			outer = append(outer, wasm.Instruction{Opcode: wasm.OpSelect})
			acc = outer
		}

		if e.Op == "lte" || e.Op == "gte" {
			acc = append(acc, i32c(1), wasm.Instruction{Opcode: wasm.OpI32Xor})
		}
		return acc, wasm.ValI32, nil
	}
	return nil, 0, errors.UnknownOperator(e.Op, e.Line)
}
