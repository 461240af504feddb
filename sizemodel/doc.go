// Package sizemodel classifies ir data types and answers the questions the
// rest of the codegen needs about them: how many bytes they occupy in the
// state buffer, what native WASM type (if any) represents them, how many
// 32-bit chunks a wide value needs, and the partial-bit mask for the last
// chunk of a value whose width isn't a multiple of 32.
//
// This is component A of the spec: a small, pure, allocation-free layer
// that every other component (layout, codegen, proxy) consults instead of
// recomputing width arithmetic itself.
package sizemodel
