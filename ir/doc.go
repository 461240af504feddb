// Package ir defines the intermediate representation consumed from the HDL
// frontend: data types, variable definitions, expression trees, and the
// per-clock-edge evaluation blocks of an elaborated module.
//
// The frontend (an external Verilog compiler emitting XML, parsed upstream
// of this package) owns producing values of these types; this package only
// describes their shape. Nothing here touches WASM, layout, or codegen —
// those live in sizemodel, layout, and codegen, which all consume ir types
// read-only.
package ir
