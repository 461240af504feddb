package codegen

import (
	"sort"

	"go.uber.org/zap"

	"github.com/tinytapeout/hdlwasm/errors"
	"github.com/tinytapeout/hdlwasm/ir"
	"github.com/tinytapeout/hdlwasm/layout"
	"github.com/tinytapeout/hdlwasm/wasm"
)

// DefaultMaxEvalIterations bounds the fixed-point settle chain the
// exported "eval" wrapper unrolls (spec §4.E).
const DefaultMaxEvalIterations = 8

// builtinNames lists the imports every generated module pulls from the
// "builtins" host module, in declaration order.
var builtinNames = []string{"$finish", "$stop", "$time", "$rand", "$readmem"}

// Options configures module emission.
type Options struct {
	MaxEvalIterations int // zero defaults to DefaultMaxEvalIterations
	LoopTimeout       int // zero defaults to DefaultLoopTimeout
	Layout            layout.Config

	// Logger receives one Debug line per emitted block function (name,
	// and the block's top-level IR statement count under the
	// "instructions" key) and a Warn when the module contains at least
	// one bounded-loop timeout guard. Nil uses a no-op logger.
	Logger *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) maxEvalIterations() int {
	if o.MaxEvalIterations <= 0 {
		return DefaultMaxEvalIterations
	}
	return o.MaxEvalIterations
}

// Result bundles everything downstream components (runtime, proxy) need
// about a freshly emitted module.
type Result struct {
	Module    *wasm.Module
	Layout    *layout.Struct
	FuncNames map[string]uint32 // block/subfunction/helper name -> func index

	// LoopTimeoutSites is the number of while-loop sites in the module
	// that carry a bounded-loop timeout guard (spec §5). It is a static
	// count taken at emit time, not a runtime hit counter: the generated
	// guard exits its loop silently with no host callback, so a host
	// wanting per-run observability reads this alongside
	// runtime.Core.LoopTimeouts() as "this module can silently give
	// up here" rather than "this module just did."
	LoopTimeoutSites int
}

// Emit lowers mod (plus a shared constant pool, which may be nil) into a
// complete wasm.Module per spec §4.E/§6.
func Emit(mod *ir.ModuleDef, pool *ir.ModuleDef, opts Options) (*Result, error) {
	promoteWideLocals(mod)

	lay, err := layout.Build(mod, pool, opts.Layout)
	if err != nil {
		return nil, err
	}

	m := &wasm.Module{}
	tr := NewTranslator(lay)
	tr.LoopTimeout = opts.LoopTimeout

	importIdx, err := addBuiltinImports(m)
	if err != nil {
		return nil, err
	}
	tr.Imports = importIdx

	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: uint64(lay.Pages), Max: u64ptr(uint64(lay.Pages))}}}

	// First pass: reserve a function index for every named block so
	// cross-block calls (subfunctions) resolve regardless of emission
	// order.
	blockNames := orderedBlockNames(mod)
	nextFunc := uint32(m.NumImportedFuncs())
	for _, name := range blockNames {
		tr.Funcs[name] = nextFunc
		nextFunc++
	}
	// Helper indices follow the order their bodies are appended below:
	// eval, copyTraceRec, tick2.
	evalFuncIdx := nextFunc
	nextFunc++
	copyTraceFuncIdx := nextFunc
	nextFunc++
	tick2FuncIdx := nextFunc
	nextFunc++

	log := opts.logger()

	// Second pass: translate bodies now that every index is known.
	for _, name := range blockNames {
		blk := mod.Blocks[name]
		resultType := blockResultType(name)
		ft, body, err := tr.buildFunction(name, blk, resultType)
		if err != nil {
			return nil, err
		}
		typeIdx := m.AddType(ft)
		m.Funcs = append(m.Funcs, typeIdx)
		m.Code = append(m.Code, body)
		log.Debug("emitted function", zap.String("name", name), zap.Int("instructions", len(blk.Body)))
	}

	// eval(dataptr)
	evalType := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
	evalBody := buildEvalWrapper(tr, opts.maxEvalIterations())
	m.Funcs = append(m.Funcs, m.AddType(evalType))
	m.Code = append(m.Code, wasm.FuncBody{Code: encodeBody(evalBody)})
	tr.Funcs["eval"] = evalFuncIdx

	// copyTraceRec(dataptr) — internal helper, not exported.
	copyType := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
	copyScope := NewFuncScope([]wasm.ValType{wasm.ValI32})
	copyScope.BindParam("$dataptr", dataPtrLocal, wasm.ValI32)
	copyBody := buildCopyTraceRec(lay, copyScope)
	m.Funcs = append(m.Funcs, m.AddType(copyType))
	m.Code = append(m.Code, wasm.FuncBody{Locals: copyScope.Locals(), Code: encodeBody(copyBody)})
	tr.Funcs["copyTraceRec"] = copyTraceFuncIdx

	// tick2(dataptr, iters)
	tick2Type := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}}
	tick2Scope := NewFuncScope([]wasm.ValType{wasm.ValI32, wasm.ValI32})
	tick2Scope.BindParam("$dataptr", dataPtrLocal, wasm.ValI32)
	tick2Scope.BindParam("$iters", 1, wasm.ValI32)
	tick2Body, err := buildTick2(tr, lay, tick2Scope, evalFuncIdx, copyTraceFuncIdx)
	if err != nil {
		return nil, err
	}
	m.Funcs = append(m.Funcs, m.AddType(tick2Type))
	m.Code = append(m.Code, wasm.FuncBody{Locals: tick2Scope.Locals(), Code: encodeBody(tick2Body)})
	tr.Funcs["tick2"] = tick2FuncIdx

	addExports(m, tr.Funcs)

	if tr.loopTimeoutSites > 0 {
		log.Warn("module contains bounded-loop timeout guards",
			zap.Int("sites", tr.loopTimeoutSites), zap.String("module", mod.Name))
	}

	return &Result{
		Module: m, Layout: lay, FuncNames: tr.Funcs,
		LoopTimeoutSites: tr.loopTimeoutSites,
	}, nil
}

func u64ptr(v uint64) *uint64 { return &v }

// promoteWideLocals scans every block's top-level statements for vardecl
// nodes whose type is wide (>64 bits) and adds them to mod as ordinary
// VarDefs so layout.Build gives them a home in the state region, per the
// "large/reference ones are promoted to the global state region" rule in
// spec §4.E step 2. Narrow vardecls stay block-local (translated as WASM
// locals by buildFunction).
func promoteWideLocals(mod *ir.ModuleDef) {
	for _, name := range orderedBlockNames(mod) {
		blk := mod.Blocks[name]
		for _, stmt := range blk.Body {
			if stmt.Op != "vardecl" {
				continue
			}
			if stmt.Type.Kind != ir.KindLogic || stmt.Type.Width() <= 64 {
				continue
			}
			if _, exists := mod.VarDefs[stmt.Name]; exists {
				continue
			}
			mod.AddVar(&ir.VarDef{Name: stmt.Name, Type: stmt.Type})
		}
	}
}

// orderedBlockNames returns the five well-known block names (those
// present) followed by any other named blocks (subfunctions) in
// deterministic alphabetical order, so that generated function indices
// don't depend on Go map iteration order.
func orderedBlockNames(mod *ir.ModuleDef) []string {
	wellKnown := []string{
		ir.BlockCtorVarReset, ir.BlockEvalInitial, ir.BlockEvalSettle,
		ir.BlockEval, ir.BlockChangeRequest,
	}
	var out []string
	seen := make(map[string]bool)
	for _, n := range wellKnown {
		if _, ok := mod.Blocks[n]; ok {
			out = append(out, n)
			seen[n] = true
		}
	}
	var rest []string
	for n := range mod.Blocks {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func blockResultType(name string) wasm.ValType {
	if name == ir.BlockChangeRequest {
		return wasm.ValI32
	}
	return 0 // none
}

func (tr *Translator) buildFunction(name string, blk *ir.Block, resultType wasm.ValType) (wasm.FuncType, wasm.FuncBody, error) {
	params := []wasm.ValType{wasm.ValI32}
	scope := NewFuncScope(params)
	scope.BindParam("$dataptr", dataPtrLocal, wasm.ValI32)

	var prelude []wasm.Instruction
	if name == ir.BlockChangeRequest {
		flag := scope.Named("$changed", wasm.ValI32)
		prelude = append(prelude, i32c(0), localSet(flag))
	}
	if name == ir.BlockCtorVarReset {
		// Seed the trace ring cursor (metadata word 0) to the start of
		// the ring on construction; copyTraceRec advances and wraps it.
		prelude = append(prelude,
			dataPtr(), i32c(int32(tr.Layout.MetaOffset)), wasm.Instruction{Opcode: wasm.OpI32Add},
			i32c(int32(tr.Layout.TraceOffset)),
			wasm.Instruction{Opcode: wasm.OpI32Store, Imm: wasm.MemoryImm{}},
		)
	}

	body, err := tr.EmitBlock(blk, scope)
	if err != nil {
		return wasm.FuncType{}, wasm.FuncBody{}, err
	}

	instrs := append(prelude, body...)
	if name == ir.BlockChangeRequest {
		flag, _ := scope.Lookup("$changed")
		instrs = append(instrs, localGet(flag))
	}

	ft := wasm.FuncType{Params: params}
	if resultType != 0 {
		ft.Results = []wasm.ValType{resultType}
	}
	fb := wasm.FuncBody{Locals: scope.Locals(), Code: encodeBody(instrs)}
	return ft, fb, nil
}

func encodeBody(body []wasm.Instruction) []byte {
	body = append(append([]wasm.Instruction{}, body...), wasm.Instruction{Opcode: wasm.OpEnd})
	return wasm.EncodeInstructions(body)
}

// buildEvalWrapper emits: call _eval; if (_change_request) { call _eval;
// if (...) {...} } nested up to max-1 levels deep, per spec §4.E. Encoded
// as nested if/else so the engine can inline it rather than loop.
func buildEvalWrapper(tr *Translator, max int) []wasm.Instruction {
	evalIdx := tr.Funcs[ir.BlockEval]
	changeIdx, hasChangeReq := tr.Funcs[ir.BlockChangeRequest]

	callEval := wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: evalIdx}}
	out := []wasm.Instruction{dataPtr(), callEval}
	if !hasChangeReq || max <= 1 {
		return out
	}

	for i := 0; i < max-1; i++ {
		out = append(out,
			dataPtr(),
			wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: changeIdx}},
			wasm.Instruction{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
			dataPtr(), callEval,
		)
	}
	for i := 0; i < max-1; i++ {
		out = append(out, wasm.Instruction{Opcode: wasm.OpEnd})
	}
	return out
}

// buildCopyTraceRec copies the fixed-size trace record (compile-time
// constant lay.OutputBytes) from the state region's head to the ring
// buffer slot at the runtime cursor stored in the metadata trailer, then
// advances and wraps the cursor. Uses 8-byte loads/stores since
// OutputBytes is always a multiple of 8.
func buildCopyTraceRec(lay *layout.Struct, scope *FuncScope) []wasm.Instruction {
	// The first of the metadata trailer's three u32 words holds the
	// running ring-buffer cursor; the other two are reserved.
	cursor := scope.Named("$cursor", wasm.ValI32)
	cursorAddr := []wasm.Instruction{dataPtr(), i32c(int32(lay.MetaOffset)), {Opcode: wasm.OpI32Add}}

	var out []wasm.Instruction
	out = append(out, cursorAddr...)
	out = append(out, wasm.Instruction{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{}})
	out = append(out, localSet(cursor))

	for off := uint32(0); off < lay.OutputBytes; off += 8 {
		out = append(out, dataPtr(), localGet(cursor))
		out = append(out, wasm.Instruction{Opcode: wasm.OpI32Add})
		out = append(out, dataPtr())
		out = append(out, wasm.Instruction{Opcode: wasm.OpI64Load, Imm: wasm.MemoryImm{Offset: uint64(off)}})
		out = append(out, wasm.Instruction{Opcode: wasm.OpI64Store, Imm: wasm.MemoryImm{Offset: uint64(off)}})
	}

	out = append(out, localGet(cursor), i32c(int32(lay.OutputBytes)), wasm.Instruction{Opcode: wasm.OpI32Add}, localSet(cursor))

	wrapped := append([]wasm.Instruction{}, i32c(int32(lay.TraceOffset)))
	notWrapped := append([]wasm.Instruction{}, localGet(cursor))
	atEnd := append([]wasm.Instruction{localGet(cursor), i32c(int32(lay.TraceEnd)), {Opcode: wasm.OpI32GeU}})
	newCursor := ifElseI32(atEnd, wrapped, notWrapped)

	out = append(out, cursorAddr...)
	out = append(out, newCursor...)
	out = append(out, wasm.Instruction{Opcode: wasm.OpI32Store, Imm: wasm.MemoryImm{}})
	return out
}

// buildTick2 emits the driver described in spec §4.E: with a `clk`
// variable, loop iters times toggling it and calling eval, copying a
// trace record after each full cycle; without one, tick2 aliases eval.
func buildTick2(tr *Translator, lay *layout.Struct, scope *FuncScope, evalIdx, copyTraceIdx uint32) ([]wasm.Instruction, error) {
	clkEntry, hasClk := lay.Lookup("clk")
	if !hasClk {
		return []wasm.Instruction{dataPtr(), {Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: evalIdx}}}, nil
	}

	iters, _ := scope.Lookup("$iters")
	i := scope.Named("$i", wasm.ValI32)

	setClk := func(v int32) []wasm.Instruction {
		addr := []wasm.Instruction{dataPtr()}
		if clkEntry.Offset != 0 {
			addr = append(addr, i32c(int32(clkEntry.Offset)), wasm.Instruction{Opcode: wasm.OpI32Add})
		}
		addr = append(addr, i32c(v), wasm.Instruction{Opcode: wasm.OpI32Store8, Imm: wasm.MemoryImm{}})
		return addr
	}
	callEval := []wasm.Instruction{dataPtr(), {Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: evalIdx}}}
	callCopy := []wasm.Instruction{dataPtr(), {Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: copyTraceIdx}}}

	var out []wasm.Instruction
	out = append(out, i32c(0), localSet(i))
	out = append(out, wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}})
	out = append(out, wasm.Instruction{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}})
	out = append(out,
		localGet(i), localGet(iters), wasm.Instruction{Opcode: wasm.OpI32GeU},
		wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: 1}},
	)
	out = append(out, setClk(0)...)
	out = append(out, callEval...)
	out = append(out, setClk(1)...)
	out = append(out, callEval...)
	out = append(out, callCopy...)
	out = append(out, localGet(i), i32c(1), wasm.Instruction{Opcode: wasm.OpI32Add}, localSet(i))
	out = append(out, wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 0}})
	out = append(out, wasm.Instruction{Opcode: wasm.OpEnd})
	out = append(out, wasm.Instruction{Opcode: wasm.OpEnd})
	return out, nil
}

func addBuiltinImports(m *wasm.Module) (map[string]uint32, error) {
	idx := make(map[string]uint32)
	types := map[string]wasm.FuncType{
		"$finish":  {Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}},
		"$stop":    {Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}},
		"$time":    {Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI64}},
		"$rand":    {Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		"$readmem": {Params: []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32}},
	}
	for i, name := range builtinNames {
		ft, ok := types[name]
		if !ok {
			return nil, errors.Unsupported(errors.PhaseCodegen, "unknown builtin "+name)
		}
		typeIdx := m.AddType(ft)
		m.Imports = append(m.Imports, wasm.Import{
			Module: "builtins",
			Name:   name,
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: typeIdx},
		})
		idx[name] = uint32(i)
	}
	return idx, nil
}

func addExports(m *wasm.Module, funcs map[string]uint32) {
	names := []string{
		ir.BlockCtorVarReset, ir.BlockEvalInitial, ir.BlockEvalSettle,
		ir.BlockEval, ir.BlockChangeRequest, "eval", "tick2",
	}
	for _, n := range names {
		idx, ok := funcs[n]
		if !ok {
			continue
		}
		m.Exports = append(m.Exports, wasm.Export{Name: n, Kind: wasm.KindFunc, Idx: idx})
	}
	m.Exports = append(m.Exports, wasm.Export{Name: "memory", Kind: wasm.KindMemory, Idx: 0})
}
