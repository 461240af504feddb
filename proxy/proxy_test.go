package proxy

import (
	"context"
	"math/big"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/tinytapeout/hdlwasm/ir"
	"github.com/tinytapeout/hdlwasm/layout"
	"github.com/tinytapeout/hdlwasm/wasm"
)

// memOnlyModule builds the smallest possible module exporting a memory
// large enough for any test layout, so proxy tests exercise real wazero
// linear memory instead of a hand-rolled fake.
func memOnlyModule(t *testing.T, pages uint32) wazero.Module {
	t.Helper()
	ctx := context.Background()
	max := uint64(pages)
	m := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: uint64(pages), Max: &max}}},
		Exports:  []wasm.Export{{Name: "memory", Kind: wasm.KindMemory, Idx: 0}},
	}
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { rt.Close(ctx) })
	compiled, err := rt.CompileModule(ctx, m.Encode())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	inst, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	return inst
}

func testLayout(t *testing.T) *layout.Struct {
	t.Helper()
	mod := &ir.ModuleDef{Name: "m"}
	mod.AddVar(&ir.VarDef{Name: "narrow", Type: ir.Logic(7, 0, false), IsOutput: true})
	mod.AddVar(&ir.VarDef{Name: "wide", Type: ir.Logic(64, 0, false)})
	mod.AddVar(&ir.VarDef{Name: "buf", Type: ir.Array(ir.Logic(7, 0, false), 0, 3)})
	lay, err := layout.Build(mod, nil, layout.Config{})
	if err != nil {
		t.Fatalf("layout.Build: %v", err)
	}
	return lay
}

func TestProxyNarrowRoundTrip(t *testing.T) {
	lay := testLayout(t)
	inst := memOnlyModule(t, lay.Pages)
	p := New(inst.Memory(), lay)

	if err := p.Set("narrow", uint32(0xFF)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := p.Get("narrow")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// narrow is an 8-bit field; 0xFF masked to width 8 is unchanged.
	if got.(uint8) != 0xFF {
		t.Fatalf("got %v, want 0xFF", got)
	}
}

func TestProxyWideRoundTrip(t *testing.T) {
	lay := testLayout(t)
	inst := memOnlyModule(t, lay.Pages)
	p := New(inst.Memory(), lay)

	want := new(big.Int).Lsh(big.NewInt(1), 63)
	want.Add(want, big.NewInt(42))
	if err := p.Set("wide", want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := p.Get("wide")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	big, ok := got.(*big.Int)
	if !ok {
		t.Fatalf("Get returned %T, want *big.Int", got)
	}
	if big.Cmp(want) != 0 {
		t.Fatalf("got %s, want %s", big, want)
	}
}

func TestProxyArrayInPlace(t *testing.T) {
	lay := testLayout(t)
	inst := memOnlyModule(t, lay.Pages)
	p := New(inst.Memory(), lay)

	if err := p.Set("buf", []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := p.Get("buf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	view := got.([]byte)
	if len(view) != 4 || view[0] != 1 || view[3] != 4 {
		t.Fatalf("got %v", view)
	}

	view[0] = 99
	got2, _ := p.Get("buf")
	if got2.([]byte)[0] != 99 {
		t.Fatal("array view did not alias instance memory")
	}
}

func TestProxyUnknownVariable(t *testing.T) {
	lay := testLayout(t)
	inst := memOnlyModule(t, lay.Pages)
	p := New(inst.Memory(), lay)

	if _, err := p.Get("nope"); err == nil {
		t.Fatal("expected error for unknown variable")
	}
}

func TestTraceCursorWraps(t *testing.T) {
	lay, err := layout.Build(func() *ir.ModuleDef {
		mod := &ir.ModuleDef{Name: "m"}
		mod.AddVar(&ir.VarDef{Name: "out", Type: ir.Logic(31, 0, false), IsOutput: true})
		return mod
	}(), nil, layout.Config{TraceDepth: 2})
	if err != nil {
		t.Fatalf("layout.Build: %v", err)
	}
	inst := memOnlyModule(t, lay.Pages)
	tr := NewTrace(inst.Memory(), lay)

	if tr.GetTraceRecordSize() != lay.OutputBytes {
		t.Fatalf("record size = %d, want %d", tr.GetTraceRecordSize(), lay.OutputBytes)
	}

	start := lay.TraceOffset
	tr.NextTrace()
	if tr.view.base != start+lay.OutputBytes {
		t.Fatalf("after one NextTrace, base = %d", tr.view.base)
	}
	tr.NextTrace() // depth 2: this should wrap back to TraceOffset
	if tr.view.base != start {
		t.Fatalf("cursor did not wrap: base = %d, want %d", tr.view.base, start)
	}
	tr.ResetTrace()
	if tr.view.base != start {
		t.Fatal("ResetTrace did not return to TraceOffset")
	}
}
