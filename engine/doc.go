// Package engine runs contract code on wazero.
//
// # Pipeline
//
//	Validate     - structural checks against the host surface (package wasm)
//	Compile      - validate, insert gas metering, compile with wazero
//	Instantiate  - bind a compiled module to a Resolver
//	Invoke       - run the entry export of one Instance
//
// Compiled modules are cached by the sha256 of the original code. The
// metered binaries are kept in a separate byte cache so a module evicted
// from the compiled set recompiles without re-validation.
//
// # Host functions
//
// A Resolver holds the functions of one host module. Host functions are
// plain api.GoModuleFunc values; per-invocation state travels in the
// context.Context passed to Invoke, so one host module serves every
// instance on the engine.
//
// A host function stops the guest by panicking. Panicking with ErrHalt
// (via Halt) ends the invocation successfully; panicking with an
// *errors.Error fails it with that error. Guest traps such as unreachable
// or out-of-bounds memory access surface as trap errors.
package engine
