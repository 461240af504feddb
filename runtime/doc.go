// Package runtime drives a single generated simulation module end to
// end (spec §4.F/§6): wazero compile and instantiate, the five builtin
// host imports, and the lifecycle entry points a host calls a running
// simulation with.
//
// # Lifecycle
//
//	core, err := runtime.New(mod, pool, runtime.Options{Logger: logger})
//	if err := core.Init(ctx); err != nil { ... }
//	defer core.Dispose(ctx)
//
//	if err := core.Powercycle(ctx); err != nil { ... }
//	if err := core.Tick(ctx); err != nil { ... }
//	if err := core.Tick2(ctx, 60); err != nil { ... }
//
// New lowers the IR to a wasm.Module via codegen but does not touch
// wazero; Init compiles and instantiates it, after which Core.State()
// and Core.Trace() expose the proxy views over its linear memory.
//
// # Builtins
//
// Every generated module imports five functions from a host module
// named "builtins": $finish, $stop, $time, $rand, $readmem. Core
// registers all five against wazero itself in Init — there is no
// separate host-registration step for callers to drive, unlike the
// teacher's HostRegistry/Bind split, since these five imports never
// vary module to module.
//
// # Determinism and threading
//
// Per spec §5, a Core is single-threaded cooperative: every entry point
// runs to completion on the caller's goroutine before returning, and a
// Core must not be shared across goroutines without external
// synchronization.
package runtime
