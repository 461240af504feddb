package codegen

import (
	"github.com/tinytapeout/hdlwasm/errors"
	"github.com/tinytapeout/hdlwasm/ir"
	"github.com/tinytapeout/hdlwasm/layout"
	"github.com/tinytapeout/hdlwasm/sizemodel"
	"github.com/tinytapeout/hdlwasm/wasm"
)

// dataPtrLocal is the local index of the data-pointer parameter that every
// generated function (eval blocks and subfunctions) takes as its sole
// WASM parameter.
const dataPtrLocal = 0

// DefaultLoopTimeout bounds every generated `while` loop so a user
// program's infinite loop cannot hang the host's calling thread.
const DefaultLoopTimeout = 10000

// Translator lowers ir.Expr trees to WASM instruction sequences against a
// fixed state layout. One Translator serves an entire module: its Funcs
// and Imports tables are filled in by the module emitter before any block
// body is translated, since blocks can call each other and the builtins.
type Translator struct {
	Layout  *layout.Struct
	Funcs   map[string]uint32 // block/subfunction name -> function index
	Imports map[string]uint32 // "$finish" etc -> import function index

	// LoopTimeout bounds every `while` loop's iteration counter. Zero
	// means DefaultLoopTimeout.
	LoopTimeout int

	// loopTimeoutSites counts how many counter-guarded while loops
	// have been emitted; it is a static count, not a record of loops
	// hitting their cap at runtime. The runtime driver exposes it as
	// LoopTimeouts().
	loopTimeoutSites int
}

// NewTranslator builds a translator over a finished layout.
func NewTranslator(lay *layout.Struct) *Translator {
	return &Translator{
		Layout:  lay,
		Funcs:   make(map[string]uint32),
		Imports: make(map[string]uint32),
	}
}

func (tr *Translator) loopTimeout() int {
	if tr.LoopTimeout <= 0 {
		return DefaultLoopTimeout
	}
	return tr.LoopTimeout
}

// EmitBlock translates every top-level statement of blk in order.
func (tr *Translator) EmitBlock(blk *ir.Block, scope *FuncScope) ([]wasm.Instruction, error) {
	var out []wasm.Instruction
	for _, stmt := range blk.Body {
		instrs, err := tr.emitStmt(stmt, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, instrs...)
	}
	return out, nil
}

// emitStmt translates a statement-shaped node: one whose net effect is
// side-effecting rather than stack-value-producing.
func (tr *Translator) emitStmt(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	switch e.Op {
	case "assign", "assign_nb", "assign_dly", "assign_blocking":
		return tr.emitAssign(e, scope)
	case "if":
		return tr.emitIf(e, scope)
	case "while":
		return tr.emitWhile(e, scope)
	case "changedet":
		return tr.emitChangeDet(e, scope)
	case "block":
		var out []wasm.Instruction
		for _, s := range e.Args {
			instrs, err := tr.emitStmt(s, scope)
			if err != nil {
				return nil, err
			}
			out = append(out, instrs...)
		}
		return out, nil
	case "vardecl":
		// Module-level promotion already happened before codegen ran
		// (see module.go); nothing to emit here for locals.
		return nil, nil
	default:
		// A bare call or other value-producing node used as a
		// statement: evaluate and drop the result.
		instrs, typ, err := tr.emitValue(e, scope)
		if err != nil {
			return nil, err
		}
		if typ != 0 {
			instrs = append(instrs, wasm.Instruction{Opcode: wasm.OpDrop})
		}
		return instrs, nil
	}
}

// emitValue translates a value-producing node, returning instructions
// that leave exactly one scalar value of the returned ValType on the
// stack (0 if the node produces no value, e.g. a void call).
func (tr *Translator) emitValue(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	if e == nil {
		return nil, 0, errors.UnknownOperator("<nil>", 0)
	}

	switch e.Op {
	case "const":
		return tr.emitConst(e)
	case "varref":
		return tr.emitLoad(e, scope)
	case "add", "sub", "mul", "mul_s", "div", "div_s", "moddiv", "moddiv_s":
		return tr.emitArith(e, scope)
	case "and", "or", "xor":
		return tr.emitBitwise(e, scope)
	case "shl", "shr_u", "shr_s":
		return tr.emitShift(e, scope)
	case "eq", "neq", "lt", "gt", "lte", "gte":
		return tr.emitCompare(e, scope)
	case "not":
		return tr.emitNot(e, scope)
	case "negate":
		return tr.emitNegate(e, scope)
	case "extends":
		return tr.emitExtend(e, scope)
	case "ccast":
		return tr.emitCast(e, scope)
	case "redxor":
		return tr.emitRedXor(e, scope)
	case "arraysel", "wordsel":
		return tr.emitSelectLoad(e, scope)
	case "cond":
		return tr.emitCond(e, scope)
	case "call":
		return tr.emitCall(e, scope)
	default:
		return nil, 0, errors.UnknownOperator(e.Op, e.Line)
	}
}

func valType(width int) wasm.ValType {
	if sizemodel.SizeBytes(width) == 8 {
		return wasm.ValI64
	}
	return wasm.ValI32
}

func constInstr(typ wasm.ValType, v int64) wasm.Instruction {
	if typ == wasm.ValI64 {
		return wasm.Instruction{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}}
	}
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(v)}}
}

// emitConst emits i32.const or i64.const, using the big-integer form when
// the frontend widened the literal.
func (tr *Translator) emitConst(e *ir.Expr) ([]wasm.Instruction, wasm.ValType, error) {
	typ := valType(e.Type.Width())
	if typ == wasm.ValI64 {
		var v int64
		if e.HasBig && e.BigValue != nil {
			v = e.BigValue.Int64()
		} else {
			v = int64(e.CValue)
		}
		return []wasm.Instruction{{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}}}, typ, nil
	}
	return []wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(e.CValue)}}}, typ, nil
}

// upcast converts a value of fromType on the stack to toType.
func upcast(fromType, toType wasm.ValType, signed bool) []wasm.Instruction {
	if fromType == toType {
		return nil
	}
	if fromType == wasm.ValI32 && toType == wasm.ValI64 {
		op := wasm.OpI64ExtendI32U
		if signed {
			op = wasm.OpI64ExtendI32S
		}
		return []wasm.Instruction{{Opcode: op}}
	}
	if fromType == wasm.ValI64 && toType == wasm.ValI32 {
		return []wasm.Instruction{{Opcode: wasm.OpI32WrapI64}}
	}
	return nil
}

// maskInstrs masks the i32 or i64 value on top of the stack down to
// width bits, leaving values of width 32/64 untouched (full-word stores).
func maskInstrs(typ wasm.ValType, width int) []wasm.Instruction {
	if typ == wasm.ValI32 {
		if width >= 32 {
			return nil
		}
		mask := int32(sizemodel.LastChunkMask(width))
		return []wasm.Instruction{
			constInstr(wasm.ValI32, int64(mask)),
			{Opcode: wasm.OpI32And},
		}
	}
	if width >= 64 {
		return nil
	}
	mask := int64(uint64(1)<<uint(width) - 1)
	return []wasm.Instruction{
		constInstr(wasm.ValI64, mask),
		{Opcode: wasm.OpI64And},
	}
}
