// Package chainvm is a sandboxed host runtime for WebAssembly smart
// contracts.
//
// Contracts are deterministic WASM modules that import a fixed host surface
// from the "env" module and export a single entry point, invoke. Every
// instruction is metered, nested calls are bounded, and storage writes are
// buffered until the outermost transaction succeeds.
//
// # Architecture Overview
//
// The module is organized into several packages with distinct responsibilities:
//
//	chainvm/
//	├── runtime/         Transactions, receipts, deployment, the executor
//	├── engine/          wazero integration: compile cache, host modules, instances
//	├── host/            The env host functions contracts call
//	├── chainctx/        Per-transaction context: gas, steps, depth, callers
//	├── contract/        Deploy, migrate and destroy over a state view
//	├── storage/         leveldb store and the write overlay of a transaction
//	├── codec/           Argument values and the native and cross-VM codecs
//	├── legacyvm/        Stack-value contracts reached through the cross-VM bridge
//	├── native/          Built-in contracts such as the ledger
//	├── wasm/            WASM binary parsing, validation and metering
//	├── abi/             Host function signatures and status codes
//	├── paramspec/       Typed parameter strings for the CLI and RPC
//	├── rpc/             JSON-RPC 2.0 service
//	├── config/          Flags, environment and config file
//	├── metrics/         Prometheus collectors
//	├── errors/          Structured error types
//	└── cmd/chainvm/     Command line and terminal UI
//
// # Quick Start
//
// Deploy a contract and run a transaction against it:
//
//	store, _ := storage.OpenMemory()
//	rt, err := runtime.New(ctx, store)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	addr, err := rt.Deploy(ctx, &contract.DeployCode{Code: wasmBytes, VMType: contract.VMWasm})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	input, _ := paramspec.ParseInput("", "add", "u64:1,u64:2")
//	rec, err := rt.Execute(ctx, &runtime.Transaction{Contract: addr, Input: input})
//	fmt.Println(rec.State, hex.EncodeToString(rec.Output))
//
// # Determinism
//
// Floating point instructions are rejected at validation, memory is capped,
// and the gas charged for a transaction depends only on its code and input.
// A failed transaction leaves no state changes, output or notifications
// behind, but still reports the gas it used.
//
// # Thread Safety
//
// Runtime is safe for concurrent use. Concurrent transactions each see the
// committed state when they start; overlapping writes are resolved by the
// last commit.
package chainvm
