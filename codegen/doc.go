// Package codegen translates an elaborated ir.ModuleDef into a wasm.Module.
//
// Translation happens in two passes per evaluation block: a scan over the
// block's top-level variable declarations to decide which become WASM
// locals and which get promoted into the shared state region (see
// layout.Build), followed by a walk of the expression tree that emits
// wasm.Instruction values. Scalar operands (width <= 64) flow through the
// WASM value stack; wide operands (width > 64) never do — only their
// memory addresses ever reach a local or the stack. See wide.go.
//
// Dispatch is table-driven: scalarEmitters maps an IR op name to a
// function that knows that op's instruction shape, matching the op ->
// emitter table design called for by the IR's tagged-variant
// representation.
package codegen
