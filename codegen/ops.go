package codegen

import (
	"github.com/tinytapeout/hdlwasm/errors"
	"github.com/tinytapeout/hdlwasm/ir"
	"github.com/tinytapeout/hdlwasm/sizemodel"
	"github.com/tinytapeout/hdlwasm/wasm"
)

// binaryOperands translates left and right, upcasting the narrower side
// to the wider of the two, and returns the common working type.
func (tr *Translator) binaryOperands(l, r *ir.Expr, scope *FuncScope) ([]wasm.Instruction, []wasm.Instruction, wasm.ValType, error) {
	lInstrs, lType, err := tr.emitValue(l, scope)
	if err != nil {
		return nil, nil, 0, err
	}
	rInstrs, rType, err := tr.emitValue(r, scope)
	if err != nil {
		return nil, nil, 0, err
	}
	common := lType
	if rType == wasm.ValI64 {
		common = wasm.ValI64
	}
	lInstrs = append(lInstrs, upcast(lType, common, l.Type.Signed)...)
	rInstrs = append(rInstrs, upcast(rType, common, r.Type.Signed)...)
	return lInstrs, rInstrs, common, nil
}

var arithOps = map[string]struct{ i32, i64 byte }{
	"add":       {wasm.OpI32Add, wasm.OpI64Add},
	"sub":       {wasm.OpI32Sub, wasm.OpI64Sub},
	"mul":       {wasm.OpI32Mul, wasm.OpI64Mul},
	"mul_s":     {wasm.OpI32Mul, wasm.OpI64Mul},
	"div":       {wasm.OpI32DivU, wasm.OpI64DivU},
	"div_s":     {wasm.OpI32DivS, wasm.OpI64DivS},
	"moddiv":    {wasm.OpI32RemU, wasm.OpI64RemU},
	"moddiv_s":  {wasm.OpI32RemS, wasm.OpI64RemS},
}

func (tr *Translator) emitArith(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	ops, ok := arithOps[e.Op]
	if !ok {
		return nil, 0, errors.UnknownOperator(e.Op, e.Line)
	}
	l, r, common, err := tr.binaryOperands(e.Left, e.Right, scope)
	if err != nil {
		return nil, 0, err
	}
	op := ops.i32
	if common == wasm.ValI64 {
		op = ops.i64
	}
	out := append(append([]wasm.Instruction{}, l...), r...)
	out = append(out, wasm.Instruction{Opcode: op})
	resultType := valType(e.Type.Width())
	out = append(out, upcast(common, resultType, e.Type.Signed)...)
	out = append(out, maskInstrs(resultType, e.Type.Width())...)
	return out, resultType, nil
}

var bitwiseOps = map[string]struct{ i32, i64 byte }{
	"and": {wasm.OpI32And, wasm.OpI64And},
	"or":  {wasm.OpI32Or, wasm.OpI64Or},
	"xor": {wasm.OpI32Xor, wasm.OpI64Xor},
}

func (tr *Translator) emitBitwise(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	ops, ok := bitwiseOps[e.Op]
	if !ok {
		return nil, 0, errors.UnknownOperator(e.Op, e.Line)
	}
	l, r, common, err := tr.binaryOperands(e.Left, e.Right, scope)
	if err != nil {
		return nil, 0, err
	}
	op := ops.i32
	if common == wasm.ValI64 {
		op = ops.i64
	}
	out := append(append([]wasm.Instruction{}, l...), r...)
	out = append(out, wasm.Instruction{Opcode: op})
	return out, common, nil
}

func (tr *Translator) emitShift(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	lInstrs, lType, err := tr.emitValue(e.Left, scope)
	if err != nil {
		return nil, 0, err
	}
	resultType := valType(e.Type.Width())
	lInstrs = append(lInstrs, upcast(lType, resultType, e.Left.Type.Signed)...)

	var shiftOp byte
	switch e.Op {
	case "shl":
		shiftOp = wasm.OpI32Shl
	case "shr_u":
		shiftOp = wasm.OpI32ShrU
	case "shr_s":
		shiftOp = wasm.OpI32ShrS
	default:
		return nil, 0, errors.UnknownOperator(e.Op, e.Line)
	}
	if resultType == wasm.ValI64 {
		switch e.Op {
		case "shl":
			shiftOp = wasm.OpI64Shl
		case "shr_u":
			shiftOp = wasm.OpI64ShrU
		case "shr_s":
			shiftOp = wasm.OpI64ShrS
		}
	}

	// A constant shift amount is emitted literally so the WASM engine
	// can constant-fold it; a variable amount is translated as an
	// ordinary operand (upcast to the same width as the shiftee).
	var rInstrs []wasm.Instruction
	if e.Right.Op == "const" {
		rInstrs = append(rInstrs, constInstr(resultType, amountOf(e.Right)))
	} else {
		rValInstrs, rType, err := tr.emitValue(e.Right, scope)
		if err != nil {
			return nil, 0, err
		}
		rInstrs = append(rValInstrs, upcast(rType, resultType, false)...)
	}

	out := append(append([]wasm.Instruction{}, lInstrs...), rInstrs...)
	out = append(out, wasm.Instruction{Opcode: shiftOp})
	out = append(out, maskInstrs(resultType, e.Type.Width())...)
	return out, resultType, nil
}

func amountOf(e *ir.Expr) int64 {
	if e.HasBig && e.BigValue != nil {
		return e.BigValue.Int64()
	}
	return int64(e.CValue)
}

func (tr *Translator) emitCompare(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	if sizemodel.IsWide(e.Left.Type.Width()) || sizemodel.IsWide(e.Right.Type.Width()) {
		return tr.emitWideCompare(e, scope)
	}
	l, r, common, err := tr.binaryOperands(e.Left, e.Right, scope)
	if err != nil {
		return nil, 0, err
	}
	signed := e.Left.Type.Signed || e.Right.Type.Signed
	op, err := compareOp(e.Op, common, signed)
	if err != nil {
		return nil, 0, err
	}
	out := append(append([]wasm.Instruction{}, l...), r...)
	out = append(out, wasm.Instruction{Opcode: op})
	return out, wasm.ValI32, nil
}

func compareOp(op string, typ wasm.ValType, signed bool) (byte, error) {
	is64 := typ == wasm.ValI64
	switch op {
	case "eq":
		if is64 {
			return wasm.OpI64Eq, nil
		}
		return wasm.OpI32Eq, nil
	case "neq":
		if is64 {
			return wasm.OpI64Ne, nil
		}
		return wasm.OpI32Ne, nil
	case "lt":
		return pick(is64, signed, wasm.OpI32LtS, wasm.OpI32LtU, wasm.OpI64LtS, wasm.OpI64LtU), nil
	case "gt":
		return pick(is64, signed, wasm.OpI32GtS, wasm.OpI32GtU, wasm.OpI64GtS, wasm.OpI64GtU), nil
	case "lte":
		return pick(is64, signed, wasm.OpI32LeS, wasm.OpI32LeU, wasm.OpI64LeS, wasm.OpI64LeU), nil
	case "gte":
		return pick(is64, signed, wasm.OpI32GeS, wasm.OpI32GeU, wasm.OpI64GeS, wasm.OpI64GeU), nil
	default:
		return 0, errors.UnknownOperator(op, 0)
	}
}

func pick(is64, signed bool, i32s, i32u, i64s, i64u byte) byte {
	switch {
	case !is64 && signed:
		return i32s
	case !is64 && !signed:
		return i32u
	case is64 && signed:
		return i64s
	default:
		return i64u
	}
}

func (tr *Translator) emitNot(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	lInstrs, lType, err := tr.emitValue(e.Left, scope)
	if err != nil {
		return nil, 0, err
	}
	width := e.Type.Width()
	mask := int64(sizemodel.LastChunkMask(width))
	if lType == wasm.ValI64 {
		mask = int64(uint64(1)<<uint(width) - 1)
		if width >= 64 {
			mask = -1
		}
	}
	out := append(append([]wasm.Instruction{}, lInstrs...), constInstr(lType, mask))
	op := wasm.OpI32Xor
	if lType == wasm.ValI64 {
		op = wasm.OpI64Xor
	}
	out = append(out, wasm.Instruction{Opcode: op})
	return out, lType, nil
}

func (tr *Translator) emitNegate(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	resultType := valType(e.Type.Width())
	lInstrs, lType, err := tr.emitValue(e.Left, scope)
	if err != nil {
		return nil, 0, err
	}
	out := []wasm.Instruction{constInstr(resultType, 0)}
	out = append(out, lInstrs...)
	out = append(out, upcast(lType, resultType, e.Left.Type.Signed)...)
	op := wasm.OpI32Sub
	if resultType == wasm.ValI64 {
		op = wasm.OpI64Sub
	}
	out = append(out, wasm.Instruction{Opcode: op})
	out = append(out, maskInstrs(resultType, e.Type.Width())...)
	return out, resultType, nil
}

// emitExtend implements the "extends" op: sign-extend a w-bit field up to
// the container's native size, using a native extend8_s/16_s/32_s when
// the width exactly matches, else the shl-then-shr_s pair.
func (tr *Translator) emitExtend(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	lInstrs, lType, err := tr.emitValue(e.Left, scope)
	if err != nil {
		return nil, 0, err
	}
	w := e.Left.Type.Width()
	resultType := valType(e.Type.Width())
	out := append([]wasm.Instruction{}, lInstrs...)
	out = append(out, upcast(lType, resultType, false)...)

	if resultType == wasm.ValI32 {
		switch w {
		case 8:
			return append(out, wasm.Instruction{Opcode: wasm.OpI32Extend8S}), resultType, nil
		case 16:
			return append(out, wasm.Instruction{Opcode: wasm.OpI32Extend16S}), resultType, nil
		}
		shift := int32(32 - w)
		out = append(out,
			constInstr(wasm.ValI32, int64(shift)), wasm.Instruction{Opcode: wasm.OpI32Shl},
			constInstr(wasm.ValI32, int64(shift)), wasm.Instruction{Opcode: wasm.OpI32ShrS},
		)
		return out, resultType, nil
	}

	switch w {
	case 8:
		return append(out, wasm.Instruction{Opcode: wasm.OpI64Extend8S}), resultType, nil
	case 16:
		return append(out, wasm.Instruction{Opcode: wasm.OpI64Extend16S}), resultType, nil
	case 32:
		return append(out, wasm.Instruction{Opcode: wasm.OpI64Extend32S}), resultType, nil
	}
	shift := int64(64 - w)
	out = append(out,
		constInstr(wasm.ValI64, shift), wasm.Instruction{Opcode: wasm.OpI64Shl},
		constInstr(wasm.ValI64, shift), wasm.Instruction{Opcode: wasm.OpI64ShrS},
	)
	return out, resultType, nil
}

// emitCast implements "ccast" per the cast table in spec §4.C.
func (tr *Translator) emitCast(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	fromW, toW := e.Left.Type.Width(), e.Type.Width()
	if sizemodel.IsWide(fromW) || sizemodel.IsWide(toW) {
		return nil, 0, errors.UnsupportedDataType("ccast", e.Line, "cast to/from widths above 64 bits is unsupported")
	}
	lInstrs, lType, err := tr.emitValue(e.Left, scope)
	if err != nil {
		return nil, 0, err
	}
	toType := valType(toW)

	switch {
	case fromW == toW:
		return lInstrs, lType, nil
	case toW > fromW && e.Left.Type.Signed:
		// narrow-to-wider signed: sign-extend via the extends path.
		ext := &ir.Expr{Op: "extends", Type: e.Type, Left: e.Left, Line: e.Line}
		return tr.emitExtend(ext, scope)
	case toW > fromW:
		// narrow-to-wider unsigned: values are already zero-padded.
		out := append(append([]wasm.Instruction{}, lInstrs...), upcast(lType, toType, false)...)
		return out, toType, nil
	default:
		// wider-to-narrow: i32.wrap when coming from i64, else no-op.
		out := append(append([]wasm.Instruction{}, lInstrs...), upcast(lType, toType, false)...)
		out = append(out, maskInstrs(toType, toW)...)
		return out, toType, nil
	}
}

// emitRedXor implements "redxor": popcnt(x) & 1, cast to dtype.
func (tr *Translator) emitRedXor(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	lInstrs, lType, err := tr.emitValue(e.Left, scope)
	if err != nil {
		return nil, 0, err
	}
	popcnt := wasm.OpI32Popcnt
	andOp := wasm.OpI32And
	if lType == wasm.ValI64 {
		popcnt = wasm.OpI64Popcnt
		andOp = wasm.OpI64And
	}
	out := append(append([]wasm.Instruction{}, lInstrs...), wasm.Instruction{Opcode: popcnt})
	out = append(out, constInstr(lType, 1), wasm.Instruction{Opcode: andOp})
	resultType := valType(e.Type.Width())
	out = append(out, upcast(lType, resultType, false)...)
	return out, resultType, nil
}
