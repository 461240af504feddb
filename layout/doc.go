// Package layout implements component B: it assigns every variable in an
// elaborated module (and the shared constant pool) a byte offset in a
// single flat state buffer, groups output variables at the front so a
// contiguous prefix is the trace record, appends the three-word trace
// metadata trailer, and reserves the trace ring buffer itself.
//
// The resulting Struct is built once per module and never mutated
// afterwards (§3 Lifecycle): codegen consumes it to know where to
// load/store each variable, and proxy borrows it read-only to translate
// host-facing names into memory addresses.
package layout
