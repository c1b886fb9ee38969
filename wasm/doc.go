// Package wasm decodes, validates and re-encodes contract modules.
//
// The decoder accepts the MVP binary format plus the bulk memory copy and
// fill operators and the sign-extension operators. Validate enforces the
// deterministic subset contracts may use: integer value types only, no
// SIMD, reference types, threads or floating point, function imports only,
// and an entry export. Imports are checked against the host surface through
// Policy.Imports.
//
// Deep type checking of function bodies is left to the compiler; this
// package checks the properties instrumentation depends on (opcode set,
// call targets, block balance).
package wasm
