package codegen

import (
	"github.com/tinytapeout/hdlwasm/errors"
	"github.com/tinytapeout/hdlwasm/ir"
	"github.com/tinytapeout/hdlwasm/wasm"
)

// builtinResults gives the WASM result type of each imported builtin
// ($finish/$stop/$readmem return nothing).
var builtinResults = map[string]wasm.ValType{
	"$time": wasm.ValI64,
	"$rand": wasm.ValI32,
}

// emitCall translates a function-call node: either one of the special
// builtins (imports, taking a leading data-pointer argument elided by
// the frontend) or a direct call to a previously emitted subfunction.
func (tr *Translator) emitCall(e *ir.Expr, scope *FuncScope) ([]wasm.Instruction, wasm.ValType, error) {
	if idx, ok := tr.Imports[e.Name]; ok {
		out := []wasm.Instruction{dataPtr()}
		for _, a := range e.Args {
			argInstrs, _, err := tr.emitValue(a, scope)
			if err != nil {
				return nil, 0, err
			}
			out = append(out, argInstrs...)
		}
		out = append(out, wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: idx}})
		return out, builtinResults[e.Name], nil
	}

	idx, ok := tr.Funcs[e.Name]
	if !ok {
		return nil, 0, errors.UnknownOperator(e.Name, e.Line)
	}
	out := []wasm.Instruction{dataPtr()}
	for _, a := range e.Args {
		argInstrs, _, err := tr.emitValue(a, scope)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, argInstrs...)
	}
	out = append(out, wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: idx}})
	resultType := valType(e.Type.Width())
	return out, resultType, nil
}
