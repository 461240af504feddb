package codegen

import (
	"github.com/tinytapeout/hdlwasm/ir"
	"github.com/tinytapeout/hdlwasm/wasm"
)

// emitIf translates the statement-form "if" (triop, no result): a plain
// WASM if/else wrapping the then/else statement bodies.
func (tr *Translator) emitIf(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	cond, condType, err := tr.emitValue(e.Cond, scope)
	if err != nil {
		return nil, err
	}
	cond = append(cond, boolify(condType)...)

	thenInstrs, err := tr.emitStmt(e.Then, scope)
	if err != nil {
		return nil, err
	}

	out := append([]wasm.Instruction{}, cond...)
	out = append(out, wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}})
	out = append(out, thenInstrs...)
	if e.Else != nil {
		elseInstrs, err := tr.emitStmt(e.Else, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, wasm.Instruction{Opcode: wasm.OpElse})
		out = append(out, elseInstrs...)
	}
	out = append(out, wasm.Instruction{Opcode: wasm.OpEnd})
	return out, nil
}

// emitCond translates the expression-form "cond" (triop with result) as
// a WASM select: both arms are always evaluated, which is fine since HDL
// conditional expressions are side-effect free.
func (tr *Translator) emitCond(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	resultType := valType(e.Type.Width())

	thenInstrs, thenType, err := tr.emitValue(e.Then, scope)
	if err != nil {
		return nil, 0, err
	}
	elseInstrs, elseType, err := tr.emitValue(e.Else, scope)
	if err != nil {
		return nil, 0, err
	}
	condInstrs, condType, err := tr.emitValue(e.Cond, scope)
	if err != nil {
		return nil, 0, err
	}

	out := append([]wasm.Instruction{}, thenInstrs...)
	out = append(out, upcast(thenType, resultType, e.Then.Type.Signed)...)
	out = append(out, elseInstrs...)
	out = append(out, upcast(elseType, resultType, e.Else.Type.Signed)...)
	out = append(out, condInstrs...)
	out = append(out, boolify(condType)...)
	out = append(out, wasm.Instruction{Opcode: wasm.OpSelect})
	return out, resultType, nil
}

// boolify reduces a wider-than-i32 condition value to an i32 before a
// WASM if/br_if/select, which all require an i32 condition.
func boolify(typ wasm.ValType) []wasm.Instruction {
	if typ == wasm.ValI64 {
		return []wasm.Instruction{{Opcode: wasm.OpI64Eqz}, {Opcode: wasm.OpI32Eqz}}
	}
	return nil
}

// emitWhile translates a while loop with optional precond/inc, guarded
// by a counter so a user program's infinite loop cannot hang the host.
// Shape:
//
//	precond
//	counter = 0
//	block
//	  loop
//	    if (counter >= timeout) br 1  (loopTimeoutSites++ recorded statically)
//	    counter += 1
//	    if !loopcond br 1 (exit to block end)
//	    body
//	    inc
//	    br 0
//	  end
//	end
func (tr *Translator) emitWhile(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	var out []wasm.Instruction

	if e.Precond != nil {
		instrs, err := tr.emitStmt(e.Precond, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, instrs...)
	}

	counter := scope.Temp(wasm.ValI32)
	out = append(out,
		wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 0}},
		wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: counter.Index}},
	)

	out = append(out, wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}})
	out = append(out, wasm.Instruction{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}})

	tr.loopTimeoutSites++

	// Timeout guard: br 1 (out to the enclosing block) once the cap is hit.
	out = append(out,
		wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: counter.Index}},
		wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(tr.loopTimeout())}},
		wasm.Instruction{Opcode: wasm.OpI32GeU},
		wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: 1}},
		wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: counter.Index}},
		wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
		wasm.Instruction{Opcode: wasm.OpI32Add},
		wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: counter.Index}},
	)

	// Loop condition: exit to the enclosing block when false.
	condInstrs, condType, err := tr.emitValue(e.Loopcond, scope)
	if err != nil {
		return nil, err
	}
	out = append(out, condInstrs...)
	out = append(out, boolify(condType)...)
	out = append(out,
		wasm.Instruction{Opcode: wasm.OpI32Eqz},
		wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: 1}},
	)

	bodyInstrs, err := tr.emitStmt(e.Body, scope)
	if err != nil {
		return nil, err
	}
	out = append(out, bodyInstrs...)

	if e.Inc != nil {
		incInstrs, err := tr.emitStmt(e.Inc, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, incInstrs...)
	}

	out = append(out, wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 0}})
	out = append(out, wasm.Instruction{Opcode: wasm.OpEnd}) // end loop
	out = append(out, wasm.Instruction{Opcode: wasm.OpEnd}) // end block
	return out, nil
}

// emitChangeDet translates a changedet node: if (left != right)
// changed_flag = 1; right = left. Appears only inside _change_request.
func (tr *Translator) emitChangeDet(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, error) {
	flag, ok := scope.Lookup("$changed")
	if !ok {
		flag = scope.Named("$changed", wasm.ValI32)
	}

	lInstrs, lType, err := tr.emitValue(e.Left, scope)
	if err != nil {
		return nil, err
	}
	rInstrs, rType, err := tr.emitValue(e.Right, scope)
	if err != nil {
		return nil, err
	}
	common := lType
	if rType == wasm.ValI64 {
		common = wasm.ValI64
	}
	neOp := wasm.OpI32Ne
	if common == wasm.ValI64 {
		neOp = wasm.OpI64Ne
	}

	out := append(append([]wasm.Instruction{}, lInstrs...), upcast(lType, common, e.Left.Type.Signed)...)
	out = append(out, rInstrs...)
	out = append(out, upcast(rType, common, e.Right.Type.Signed)...)
	out = append(out, wasm.Instruction{Opcode: neOp})
	out = append(out, wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}})
	out = append(out,
		wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
		wasm.Instruction{Opcode: wasm.OpLocalSet, Imm: wasm.LocalImm{LocalIdx: flag.Index}},
	)
	out = append(out, wasm.Instruction{Opcode: wasm.OpEnd})

	// right = left
	assignBack, err := tr.emitAssign(&ir.Expr{Op: "assign", Left: e.Right, Right: e.Left, Type: e.Right.Type, Line: e.Line}, scope)
	if err != nil {
		return nil, err
	}
	out = append(out, assignBack...)
	return out, nil
}
