// Package wasm provides WebAssembly binary format parsing and encoding.
//
// This package implements a complete parser and encoder for WebAssembly
// binary modules according to the WebAssembly 2.0 specification, with
// support for several post-2.0 proposals. It is the binary-format layer
// underneath package codegen, which builds a Module in memory from an
// elaborated hardware-description IR and calls Module.Encode to produce
// the .wasm bytes a host loads; nothing in this package is specific to
// that use, and ParseModule/DecodeInstructions work on any module.
//
// # Supported Features
//
//	WebAssembly 2.0:
//	  - Core value types (i32, i64, f32, f64)
//	  - Functions, tables, memories, globals
//	  - Control flow, calls, local/global access
//	  - Memory and table operations
//	  - Import/export of all definitions
//
//	Post-2.0 Proposals:
//	  - GC (structs, arrays, typed references, heap types)
//	  - Exception handling (tags, try/catch, throw)
//	  - Tail calls (return_call, return_call_indirect)
//	  - SIMD (128-bit vector operations, v128 type)
//	  - Threads (atomic operations, shared memory)
//	  - Bulk memory (memory.copy, memory.fill, data.drop)
//	  - Reference types (funcref, externref, ref.null, ref.is_null)
//	  - Multi-memory (multiple memory instances)
//	  - Memory64 (64-bit memory addressing)
//
// # Parsing
//
// Parse a WebAssembly module from binary:
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Parse with validation enabled:
//
//	module, err := wasm.ParseModuleValidate(data)
//
// # Encoding
//
// Encode a module back to binary:
//
//	encoded := module.Encode()
//
// Round-trip parsing and encoding preserves module semantics:
//
//	original, _ := wasm.ParseModule(data)
//	roundtrip, _ := wasm.ParseModule(original.Encode())
//	// original and roundtrip are semantically equivalent
//
// # Module Structure
//
// A parsed module contains all sections:
//
//	module.Types      []FuncType    // Function signatures
//	module.Funcs      []uint32      // Type indices for functions
//	module.Tables     []TableType   // Table definitions
//	module.Memories   []MemoryType  // Memory definitions
//	module.Globals    []Global      // Global definitions
//	module.Imports    []Import      // Imported definitions
//	module.Exports    []Export      // Exported definitions
//	module.Code       []FuncBody    // Function bodies
//	module.Data       []DataSegment // Data segments
//	module.Elements   []Element     // Element segments
//
// # Instructions
//
// Decode instructions from bytecode:
//
//	instructions, err := wasm.DecodeInstructions(code)
//	for _, instr := range instructions {
//	    fmt.Printf("0x%02x\n", instr.Opcode)
//	}
//
// Encode instructions back to bytecode:
//
//	encoded := wasm.EncodeInstructions(instructions)
//
// # Validation
//
// Validate module structure:
//
//	if err := module.Validate(); err != nil {
//	    log.Printf("invalid module: %v", err)
//	}
//
// Validation checks:
//   - Type indices of functions, imports and tags are in bounds
//   - Function, table, memory, global and tag indices used by exports,
//     element and data segments and the start function are in bounds
//   - Export names are unique
//   - The start function has signature [] -> []
//   - A data count matches the number of data segments, and the code
//     section has one body per function
//   - Memory page limits are within the maximum, and shared memories
//     have a maximum
//
// Validate does not check table limits, name encoding or instruction
// bodies.
//
// # LEB128 Encoding
//
// The package provides LEB128 utilities used throughout:
//
//	n, err := wasm.ReadLEB128u(r)  // Unsigned; r is an io.ByteReader
//	n, err := wasm.ReadLEB128s(r)  // Signed
package wasm
