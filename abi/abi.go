// Package abi lists the host functions contracts may import and their
// signatures. All imports live in the "env" module.
package abi

import "github.com/wippyai/chainvm/wasm"

// Module is the import module name contracts use.
const Module = "env"

// Entry is the export every contract must provide.
const Entry = "invoke"

// Host function names.
const (
	Timestamp        = "ontio_timestamp"
	BlockHeight      = "ontio_block_height"
	SelfAddress      = "ontio_self_address"
	CallerAddress    = "ontio_caller_address"
	EntryAddress     = "ontio_entry_address"
	InputLength      = "ontio_input_length"
	GetInput         = "ontio_get_input"
	CallOutputLen    = "ontio_call_output_length"
	GetCallOutput    = "ontio_get_call_output"
	CheckWitness     = "ontio_check_witness"
	CurrentBlockHash = "ontio_current_blockhash"
	CurrentTxHash    = "ontio_current_txhash"
	Return           = "ontio_return"
	Panic            = "ontio_panic"
	Notify           = "ontio_notify"
	Debug            = "ontio_debug"
	Sha256           = "ontio_sha256"
	CallContract     = "ontio_call_contract"
	TryCallContract  = "ontio_try_call_contract"
	StorageRead      = "ontio_storage_read"
	StorageWrite     = "ontio_storage_write"
	StorageDelete    = "ontio_storage_delete"
	ContractCreate   = "ontio_contract_create"
	ContractMigrate  = "ontio_contract_migrate"
	ContractDestroy  = "ontio_contract_destroy"
)

// StorageMiss is returned by ontio_storage_read when the key is absent.
const StorageMiss uint32 = 0xFFFFFFFF

// Status codes returned by ontio_try_call_contract.
const (
	CallOK            uint32 = 0
	CallDepthExceeded uint32 = 7
)

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
)

func sig(params []wasm.ValType, results ...wasm.ValType) wasm.FuncType {
	return wasm.FuncType{Params: params, Results: results}
}

func i32s(n int) []wasm.ValType {
	out := make([]wasm.ValType, n)
	for i := range out {
		out[i] = i32
	}
	return out
}

// Signatures maps every host function name to its type.
var Signatures = map[string]wasm.FuncType{
	Timestamp:        sig(nil, i64),
	BlockHeight:      sig(nil, i32),
	SelfAddress:      sig(i32s(1)),
	CallerAddress:    sig(i32s(1)),
	EntryAddress:     sig(i32s(1)),
	InputLength:      sig(nil, i32),
	GetInput:         sig(i32s(1)),
	CallOutputLen:    sig(nil, i32),
	GetCallOutput:    sig(i32s(1)),
	CheckWitness:     sig(i32s(1), i32),
	CurrentBlockHash: sig(i32s(1), i32),
	CurrentTxHash:    sig(i32s(1), i32),
	Return:           sig(i32s(2)),
	Panic:            sig(i32s(2)),
	Notify:           sig(i32s(2)),
	Debug:            sig(i32s(2)),
	Sha256:           sig(i32s(3)),
	CallContract:     sig(i32s(3), i32),
	TryCallContract:  sig(i32s(3), i32),
	StorageRead:      sig(i32s(5), i32),
	StorageWrite:     sig(i32s(4)),
	StorageDelete:    sig(i32s(2)),
	ContractCreate:   sig(i32s(14), i32),
	ContractMigrate:  sig(i32s(14), i32),
	ContractDestroy:  sig(nil),
}

// Lookup implements wasm.ImportLookup for the env module.
func Lookup(module, name string) (wasm.FuncType, bool) {
	if module != Module {
		return wasm.FuncType{}, false
	}
	ft, ok := Signatures[name]
	return ft, ok
}
